// Package all registers every storage backend. Import it for side effects
// from main packages:
//
//	import _ "synthetl/internal/storage/all"
package all

import (
	// SQL Server driver; storage/mssql opens "sqlserver" but does not import it.
	_ "github.com/microsoft/go-mssqldb"

	_ "synthetl/internal/storage/csvdir"
	_ "synthetl/internal/storage/mssql"
	_ "synthetl/internal/storage/postgres"
	_ "synthetl/internal/storage/sqlite"
)
