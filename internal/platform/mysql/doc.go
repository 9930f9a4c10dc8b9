// Package mysql registers the MySQL engine, backed by go-sql-driver/mysql.
package mysql
