package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct{ to, subject, html, text string }

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Send(to, subject, html, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{to, subject, html, text})
	return nil
}

func TestEmail_RendersAndSendsToEachRecipient(t *testing.T) {
	fs := &fakeSender{}
	n := NewEmail(fs, []string{"ops@example.com", " ", "oncall@example.com"})

	err := n.CredentialFailed(context.Background(), Event{
		TenantID: "store-1",
		Status:   "REVOKED",
		Reason:   "google refresh: invalid_grant (400)",
		Email:    "owner@example.com",
		At:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, fs.msgs, 2)

	m := fs.msgs[0]
	assert.Equal(t, "ops@example.com", m.to)
	assert.Equal(t, "[tubelink] Google account for store-1 is REVOKED", m.subject)
	assert.Contains(t, m.text, "invalid_grant")
	assert.Contains(t, m.text, "must link the account again")
	assert.Contains(t, m.html, "<b>store-1</b>")
	assert.Equal(t, "oncall@example.com", fs.msgs[1].to)
}

func TestEmail_NoRecipientsIsNoop(t *testing.T) {
	fs := &fakeSender{err: errors.New("should not be called")}
	require.NoError(t, NewEmail(fs, nil).CredentialFailed(context.Background(), Event{TenantID: "t"}))
}

func TestEmail_EscapesHTML(t *testing.T) {
	fs := &fakeSender{}
	n := NewEmail(fs, []string{"ops@example.com"})
	require.NoError(t, n.CredentialFailed(context.Background(), Event{TenantID: "t", Status: "ERROR", Reason: "<script>x</script>"}))
	assert.NotContains(t, fs.msgs[0].html, "<script>")
}

func TestQueue_DeliversOnClose(t *testing.T) {
	fs := &fakeSender{}
	q := NewQueue(NewEmail(fs, []string{"ops@example.com"}), 8)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.CredentialFailed(context.Background(), Event{TenantID: "t", Status: "ERROR", Reason: "x"}))
	}
	q.Close()
	assert.Len(t, fs.msgs, 3)
}
