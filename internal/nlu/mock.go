package nlu

import "context"

// MockCompleter returns a canned reply, for tests and offline runs. The
// adapters built on it degrade to their well-formed empty values when the
// reply does not parse.
type MockCompleter struct {
	Reply string
}

func (m MockCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return m.Reply, nil
}
