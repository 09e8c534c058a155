// Package mocks provides test doubles for the external tool executor and the
// interactive prompter.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockCommandExecutor records every invocation and answers from canned
// responses. It satisfies runner.Executor and is safe for concurrent use.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses is keyed by the full command line ("name arg1 arg2 ...").
	Responses map[string][]byte
	// Errors is keyed by the full command line or by the binary name alone.
	Errors map[string]error
	// OnRun, when set, is called for every invocation after the error
	// lookup. Tests use it to create the files a real tool would write.
	OnRun func(name string, args []string) error

	CallLog []string
}

func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses: make(map[string][]byte),
		Errors:    make(map[string]error),
		CallLog:   make([]string, 0),
	}
}

func (m *MockCommandExecutor) Run(ctx context.Context, name string, args ...string) error {
	_, err := m.Output(ctx, name, args...)
	return err
}

func (m *MockCommandExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("%s %s", name, strings.Join(args, " "))

	m.mu.Lock()
	m.CallLog = append(m.CallLog, cmd)
	response, hasResponse := m.Responses[cmd]
	cmdErr, hasCmdErr := m.Errors[cmd]
	nameErr, hasNameErr := m.Errors[name]
	onRun := m.OnRun
	m.mu.Unlock()

	if hasCmdErr {
		return nil, cmdErr
	}
	if hasNameErr {
		return nil, nameErr
	}
	if onRun != nil {
		if err := onRun(name, args); err != nil {
			return nil, err
		}
	}
	if hasResponse {
		return response, nil
	}
	return []byte{}, nil
}

// SetResponse registers the output for an exact command line.
func (m *MockCommandExecutor) SetResponse(output string, name string, args ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[fmt.Sprintf("%s %s", name, strings.Join(args, " "))] = []byte(output)
}

// Calls returns a copy of the call log.
func (m *MockCommandExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CallsContaining returns the logged calls that contain every given substring.
func (m *MockCommandExecutor) CallsContaining(substrings ...string) []string {
	var ret []string
	for _, c := range m.Calls() {
		matched := true
		for _, s := range substrings {
			if !strings.Contains(c, s) {
				matched = false
				break
			}
		}
		if matched {
			ret = append(ret, c)
		}
	}
	return ret
}

// MockPrompter answers interactive prompts from maps keyed by label.
type MockPrompter struct {
	StringResponses  map[string]string
	SelectResponses  map[string]string
	ConfirmResponses map[string]bool
	Errors           map[string]error
	CallLog          []string
}

func NewMockPrompter() *MockPrompter {
	return &MockPrompter{
		StringResponses:  make(map[string]string),
		SelectResponses:  make(map[string]string),
		ConfirmResponses: make(map[string]bool),
		Errors:           make(map[string]error),
		CallLog:          make([]string, 0),
	}
}

func (m *MockPrompter) PromptString(label, defaultValue string, validate func(string) error) (string, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("PromptString: %s (default: %s)", label, defaultValue))

	if err, exists := m.Errors[label]; exists {
		return "", err
	}

	response := defaultValue
	if r, exists := m.StringResponses[label]; exists {
		response = r
	}
	if validate != nil {
		if err := validate(response); err != nil {
			return "", err
		}
	}
	return response, nil
}

func (m *MockPrompter) Select(label string, items []string, defaultIndex int) (int, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("Select: %s", label))

	if err, exists := m.Errors[label]; exists {
		return 0, err
	}

	if response, exists := m.SelectResponses[label]; exists {
		for i, item := range items {
			if item == response || strings.HasPrefix(item, response+" ") {
				return i, nil
			}
		}
		return 0, fmt.Errorf("mock prompter: %q is not one of the items for %q", response, label)
	}

	if len(items) == 0 {
		return 0, errors.New("no items provided")
	}
	return defaultIndex, nil
}

func (m *MockPrompter) Confirm(label string) (bool, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("Confirm: %s", label))

	if err, exists := m.Errors[label]; exists {
		return false, err
	}
	return m.ConfirmResponses[label], nil
}

// MockTime provides a fixed clock for testing
type MockTime struct {
	CurrentTime time.Time
}

func NewMockTime() *MockTime {
	return &MockTime{CurrentTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (m *MockTime) Now() time.Time {
	return m.CurrentTime
}
