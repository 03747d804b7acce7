package job

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIDs struct {
	mock.Mock
}

func (m *mockIDs) NewID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

const direct = `{"vendor_name":"Acme Co","schedule_id":"sched-1","pages":2,"directors":["Jane Doe"," "],"website_url":null,"crawlers":["GOOGLE","google","NEWS"]}`

func TestDecode_Envelopes(t *testing.T) {
	t.Parallel()

	quoted, err := json.Marshal(direct)
	require.NoError(t, err)
	push := `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte(direct)) + `","messageId":"1"},"subscription":"s"}`

	tests := map[string]string{
		"direct":       direct,
		"notification": `{"Type":"Notification","Message":` + string(quoted) + `}`,
		"sns record":   `{"EventSource":"aws:sns","Sns":{"Message":` + string(quoted) + `}}`,
		"push":         push,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			j, err := NewDecoder(nil).Decode([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, Job{
				ID:        "sched-1",
				Subject:   "Acme Co",
				Directors: []string{"Jane Doe"},
				Pages:     2,
				Variants:  []string{"GOOGLE", "NEWS"},
			}, j)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not json":          `vendor_name=acme`,
		"unknown envelope":  `{"hello":"world"}`,
		"missing vendor":    `{"vendor_name":"  ","crawlers":["GOOGLE"],"schedule_id":"x"}`,
		"no crawlers":       `{"vendor_name":"Acme","crawlers":[],"schedule_id":"x"}`,
		"blank crawlers":    `{"vendor_name":"Acme","crawlers":[" "],"schedule_id":"x"}`,
		"bad types":         `{"vendor_name":"Acme","pages":"two","crawlers":["GOOGLE"]}`,
		"path id":           `{"vendor_name":"Acme","crawlers":["GOOGLE"],"schedule_id":"../etc"}`,
		"slash id":          `{"vendor_name":"Acme","crawlers":["GOOGLE"],"schedule_id":"a/b"}`,
		"bad base64":        `{"message":{"data":"***"}}`,
		"push without data": `{"message":{}}`,
		"message not json":  `{"Message":"oops"}`,
		"array":             `[1,2,3]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := NewDecoder(nil).Decode([]byte(body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_Defaults(t *testing.T) {
	t.Parallel()

	ids := &mockIDs{}
	ids.On("NewID").Return("0190b5a0-0000-7000-8000-000000000000", nil).Once()

	j, err := NewDecoder(ids).Decode([]byte(`{"vendor_name":" Acme ","crawlers":["OFFICIAL_WEBSITE"],"website_url":" acme.com "}`))
	require.NoError(t, err)
	assert.Equal(t, "0190b5a0-0000-7000-8000-000000000000", j.ID)
	assert.Equal(t, "Acme", j.Subject)
	assert.Equal(t, DefaultPages, j.Pages)
	assert.Equal(t, "acme.com", j.SiteURL)
	assert.Empty(t, j.Directors)
	ids.AssertExpectations(t)
}

func TestDecode_IDGeneratorFailure(t *testing.T) {
	t.Parallel()

	ids := &mockIDs{}
	ids.On("NewID").Return("", errors.New("entropy exhausted"))

	_, err := NewDecoder(ids).Decode([]byte(`{"vendor_name":"Acme","crawlers":["GOOGLE"]}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
}
