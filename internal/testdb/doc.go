// Package testdb manages test databases for packages that run against
// dbharness-configured connections.
//
// Each test picks one of three isolation strategies:
//
//   - Shared: the test runs against the process-wide database created by
//     Environment.Initialize. The test itself performs no database lifecycle
//     work.
//   - Isolated: the test gets its own freshly created database, with schema,
//     which is dropped when the test ends. This is slow but every test starts
//     from an empty schema.
//   - Transactional: the test runs inside a transaction on the process-wide
//     database. The transaction is always rolled back when the test ends, so
//     writes never outlive the test.
//
// # Process setup
//
// The process-wide database is created once per test binary from TestMain:
//
//	var env *testdb.Environment
//
//	func TestMain(m *testing.M) {
//	    env = testdb.MustEnvironment()
//	    os.Exit(env.Main(m))
//	}
//
// The database URL comes from DBHARNESS_TEST_DB (default sqlite://:memory:).
// Put the placeholder {} in the file name or database name to get a unique
// database per run, e.g. postgres://postgres:@localhost:5432/test_\{\}.
//
// # Tests
//
//	func TestCreateTournament(t *testing.T) {
//	    c := testdb.Transactional(t, env)
//
//	    _, err := c.Querier().ExecContext(c.Context(),
//	        "INSERT INTO tournaments (id, name) VALUES (1, 'Test')")
//	    require.NoError(t, err)
//	    // Rolled back when the test ends.
//	}
//
// Teardown is registered with t.Cleanup and always runs, in this order:
// hooks registered with Case.Cleanup (and any t.Cleanup registered after
// the case began), waiting for work started with Case.Go, database teardown,
// restoring the registry to what it was before the case began, and finally
// the goroutine leak check. A leak is reported as a separate test failure
// wrapping dberr.ErrPostcondition.
//
// Cases nest: an Isolated case begun inside a Shared one gets its own
// database, and the outer case's routing is back in place once the inner
// case ends.
//
// # Concurrency
//
// An Environment owns a single registry. Tests using Isolated or
// Transactional must not call t.Parallel: they swap the registry's
// connections and transaction slots, and the leak check compares goroutines
// process-wide.
package testdb
