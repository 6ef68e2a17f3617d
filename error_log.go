package roadflow

import (
	"fmt"
	"strings"
)

// ErrorLog collects validation problems so that a single pass reports all of them
type ErrorLog struct {
	messages []string
}

func (log *ErrorLog) Add(format string, args ...interface{}) {
	log.messages = append(log.messages, fmt.Sprintf(format, args...))
}

func (log *ErrorLog) HasErrors() bool {
	return len(log.messages) > 0
}

func (log *ErrorLog) Messages() []string {
	return log.messages
}

func (log *ErrorLog) Error() string {
	return fmt.Sprintf("%d validation error(s):\n\t%s", len(log.messages), strings.Join(log.messages, "\n\t"))
}

// Err returns the log as an error, nil when nothing has been collected
func (log *ErrorLog) Err() error {
	if !log.HasErrors() {
		return nil
	}
	return log
}
