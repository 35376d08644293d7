// Package mysql persists host extension settings in MySQL. The schema is
// managed by embedded, versioned migrations applied on Open.
package mysql
