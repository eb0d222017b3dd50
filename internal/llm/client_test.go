package llm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:            "test-key",
		RequestsPerMinute: 6000,
		RequestsPerDay:    100,
	}, nil)
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func textMessage(s string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: s},
		},
	}
}

func throttleError(status int) error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	return &anthropic.Error{
		StatusCode: status,
		Request:    req,
		Response:   &http.Response{StatusCode: status, Request: req},
	}
}

func TestTryCompleteParsesFencedResponse(t *testing.T) {
	c := newTestClient(t)
	c.send = func(context.Context, anthropic.MessageNewParams) (*anthropic.Message, error) {
		return textMessage("```json\n{\"cnpj_cliente\": \"11.222.333/0001-81\", \"valor_mensal\": \"1.234,56\"}\n```"), nil
	}

	record, err := c.TryComplete(context.Background(), "CONTRATO ...", []string{"cnpj_cliente", "valor_mensal"})
	require.NoError(t, err)
	assert.Equal(t, "11.222.333/0001-81", record["cnpj_cliente"])
	assert.Equal(t, "1.234,56", record["valor_mensal"])
}

func TestTryCompleteIgnoresUnrequestedAndEmptyFields(t *testing.T) {
	c := newTestClient(t)
	c.send = func(context.Context, anthropic.MessageNewParams) (*anthropic.Message, error) {
		return textMessage(`{"cnpj_cliente": "11.222.333/0001-81", "numero_instalacao": "123", "data_fim": "", "data_inicio": "null"}`), nil
	}

	record, err := c.TryComplete(context.Background(), "doc", []string{"cnpj_cliente", "data_fim", "data_inicio"})
	require.NoError(t, err)
	assert.Equal(t, PartialRecord{"cnpj_cliente": "11.222.333/0001-81"}, record)
}

func TestTryCompleteRetriesThrottling(t *testing.T) {
	c := newTestClient(t)
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	calls := 0
	c.send = func(context.Context, anthropic.MessageNewParams) (*anthropic.Message, error) {
		calls++
		if calls < 3 {
			return nil, throttleError(429)
		}
		return textMessage(`{"cnpj_cliente": "11.222.333/0001-81"}`), nil
	}

	record, err := c.TryComplete(context.Background(), "doc", []string{"cnpj_cliente"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
	assert.Len(t, record, 1)
}

func TestTryCompleteGivesUpAfterMaxAttempts(t *testing.T) {
	c := newTestClient(t)
	calls := 0
	c.send = func(context.Context, anthropic.MessageNewParams) (*anthropic.Message, error) {
		calls++
		return nil, throttleError(529)
	}

	_, err := c.TryComplete(context.Background(), "doc", []string{"cnpj_cliente"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, maxAttempts, calls)
}

func TestTryCompleteDoesNotRetryOtherErrors(t *testing.T) {
	c := newTestClient(t)
	calls := 0
	c.send = func(context.Context, anthropic.MessageNewParams) (*anthropic.Message, error) {
		calls++
		return nil, assert.AnError
	}

	_, err := c.TryComplete(context.Background(), "doc", []string{"cnpj_cliente"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, calls)
}

func TestTryCompleteDailyBudget(t *testing.T) {
	c := newTestClient(t)
	c.dailyCap = 1
	c.send = func(context.Context, anthropic.MessageNewParams) (*anthropic.Message, error) {
		return textMessage(`{"cnpj_cliente": "x"}`), nil
	}

	_, err := c.TryComplete(context.Background(), "doc", []string{"cnpj_cliente"})
	require.NoError(t, err)

	_, err = c.TryComplete(context.Background(), "doc", []string{"cnpj_cliente"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTryCompleteNothingMissing(t *testing.T) {
	c := newTestClient(t)
	c.send = func(context.Context, anthropic.MessageNewParams) (*anthropic.Message, error) {
		t.Fatal("no request should be made")
		return nil, nil
	}

	record, err := c.TryComplete(context.Background(), "doc", nil)
	require.NoError(t, err)
	assert.Empty(t, record)
}

func TestDecodePartialRecordSurroundingProse(t *testing.T) {
	record, err := decodePartialRecord(
		"Segue o resultado:\n{\"valor_mensal\": \"850,00\"}\nEspero ter ajudado.",
		[]string{"valor_mensal"})
	require.NoError(t, err)
	assert.Equal(t, "850,00", record["valor_mensal"])
}

func TestDecodePartialRecordRejectsNonJSON(t *testing.T) {
	_, err := decodePartialRecord("não encontrei nada", []string{"valor_mensal"})
	assert.Error(t, err)
}
