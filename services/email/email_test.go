package emailsvc

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-grad/core"
)

type recordingLogger struct {
	sync.Mutex
	errors []string
}

func (*recordingLogger) Debug(string, ...interface{}) {}
func (*recordingLogger) Info(string, ...interface{})  {}
func (*recordingLogger) Warn(string, ...interface{})  {}
func (*recordingLogger) Fatal(string, ...interface{}) {}
func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.errors = append(l.errors, msg)
}

func message() *core.EmailMessage {
	return &core.EmailMessage{
		To:      []mail.Address{{Name: "Amani", Address: "amani@masomo.test"}},
		Cc:      []mail.Address{{Address: "head@masomo.test"}},
		Subject: "Modality update",
		BodyStr: "Your thesis proposal was approved.",
	}
}

func TestConsoleService(t *testing.T) {
	logger := new(recordingLogger)
	svc := NewConsoleServiceMock(core.NewTestConfig(), logger)

	noRecipient := message()
	noRecipient.To = nil
	svc.SendMessages(message(), noRecipient)

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Your thesis proposal was approved.", sent[0].TextContent)
	assert.Empty(t, logger.errors)

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
}

func TestConsoleService_output(t *testing.T) {
	var out bytes.Buffer
	svc := NewConsoleService(core.NewTestConfig(), &out, new(recordingLogger))
	svc.sync = true

	msg := message()
	msg.Attachments = []core.Attachment{{Content: bytes.NewBufferString("%PDF"), ContentType: "application/pdf", Filename: "minutes.pdf"}}
	svc.SendMessages(msg)

	got := out.String()
	for _, want := range []string{
		"Subject: [Masomo Grad] Modality update",
		`To: "Amani" <amani@masomo.test>`,
		"CC: <head@masomo.test>",
		"Content-Type: multipart/mixed",
		"Your thesis proposal was approved.",
		"filename=minutes.pdf",
	} {
		assert.Contains(t, got, want)
	}
}

func TestSendgridService(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErrors int
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "rejected", status: http.StatusBadRequest, wantErrors: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload map[string]interface{}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, endpoint, r.URL.Path)
				assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
				body, err := ioutil.ReadAll(r.Body)
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(body, &payload))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			origHost := host
			host = srv.URL
			defer func() { host = origHost }()

			conf := core.NewTestConfig()
			conf.SendgridApiKey = "sg-key"
			logger := new(recordingLogger)
			svc := NewSendgridService(conf, logger).(*sendgridService)

			msg := message()
			require.NoError(t, msg.Render())
			svc.send(*msg)

			assert.Len(t, logger.errors, tt.wantErrors)
			require.NotNil(t, payload)
			from := payload["from"].(map[string]interface{})
			assert.Equal(t, "noreply@localhost", from["email"])
			personalizations := payload["personalizations"].([]interface{})
			require.Len(t, personalizations, 1)
			p := personalizations[0].(map[string]interface{})
			assert.True(t, strings.HasPrefix(p["subject"].(string), "[Masomo Grad] "))
			content := payload["content"].([]interface{})
			assert.Len(t, content, 1)
		})
	}
}
