package core

import "context"

type testLogger struct{}

func (l testLogger) Debug(string, ...any) {}
func (l testLogger) Info(string, ...any)  {}
func (l testLogger) Warn(string, ...any)  {}
func (l testLogger) Error(string, ...any) {}

func newRunContextForTest() *RunContext {
	conv := NewConversation(Message{Role: RoleUser, Content: "hi"})
	rc := NewRunContext(context.Background(), conv, testLogger{})
	rc.Limiter = NewCallLimiter(2)
	return rc
}
