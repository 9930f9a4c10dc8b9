package testdb

import (
	"go.uber.org/goleak"
)

// driverGoroutines belong to connection pools and driver connections that
// stay open across tests.
var driverGoroutines = []goleak.Option{
	goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	goleak.IgnoreAnyFunction("database/sql.(*DB).connectionCleaner"),
	goleak.IgnoreAnyFunction("github.com/go-sql-driver/mysql.(*mysqlConn).startWatcher.func1"),
	goleak.IgnoreAnyFunction("github.com/jackc/pgx/v5/pgconn/ctxwatch.(*ContextWatcher).Watch.func1"),
}

// leakChecker finds goroutines started after it was created.
type leakChecker struct {
	opts []goleak.Option
}

func newLeakChecker(extra []goleak.Option) *leakChecker {
	opts := make([]goleak.Option, 0, 1+len(driverGoroutines)+len(extra))
	opts = append(opts, goleak.IgnoreCurrent())
	opts = append(opts, driverGoroutines...)
	opts = append(opts, extra...)
	return &leakChecker{opts: opts}
}

// check returns an error listing goroutines that are still running.
// goleak retries for a while, so goroutines that are about to exit pass.
func (c *leakChecker) check() error {
	return goleak.Find(c.opts...)
}
