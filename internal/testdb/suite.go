package testdb

import (
	"github.com/stretchr/testify/suite"
)

// Suite is a testify suite whose every test method runs as a Case.
//
//	type TournamentSuite struct{ *testdb.Suite }
//
//	func TestTournaments(t *testing.T) {
//	    suite.Run(t, &TournamentSuite{testdb.NewSuite(env, testdb.StrategyTransactional)})
//	}
type Suite struct {
	suite.Suite

	Env      *Environment
	Strategy Strategy
	Options  []CaseOption

	current *Case
}

// NewSuite returns a suite running each test under strategy.
func NewSuite(env *Environment, strategy Strategy, opts ...CaseOption) *Suite {
	return &Suite{Env: env, Strategy: strategy, Options: opts}
}

// SetupTest begins the case of the next test method.
func (s *Suite) SetupTest() {
	s.current = Begin(s.T(), s.Env, s.Strategy, s.Options...)
}

// Case returns the case of the running test method.
func (s *Suite) Case() *Case {
	return s.current
}
