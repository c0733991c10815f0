// Package data embeds the MariaDB bootstrap DDL for the mind-map schema.
// The container entrypoint runs these in filename order; tests replay the
// same files against throwaway databases.
package data

import (
	_ "embed"
)

//go:embed initdb/mariadb/002-ddl-tables.sql
var InitdbMariaDBTables string

//go:embed initdb/mariadb/003-ddl-privileges.sql
var InitdbMariaDBPrivileges string
