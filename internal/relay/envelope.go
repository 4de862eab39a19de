// Package relay carries user turns between a client connection and the
// account's agent, including the multi-step transaction flow.
package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Inbound envelope types.
const (
	TypeConnectionAuth    = "CONNECTION_AUTH"
	TypeUserMessage       = "USER_MESSAGE"
	TypeTransactionResult = "TRANSACTION_RESULT"
	TypePing              = "PING"
)

// Outbound envelope types.
const (
	TypeAgentResponse     = "AGENT_RESPONSE"
	TypeTransactionToSign = "TRANSACTION_TO_SIGN"
	TypeSystemMessage     = "SYSTEM_MESSAGE"
	TypeSwapQuote         = "SWAP_QUOTE"
	TypePong              = "PONG"
)

// System message levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Inbound is the union of all client envelopes.
type Inbound struct {
	Type          string `json:"type"`
	Message       string `json:"message,omitempty"`
	UserAccountID string `json:"userAccountId,omitempty"`
	Success       bool   `json:"success,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// Outbound is any envelope sent to the client.
type Outbound interface {
	Kind() string
}

// AgentResponse carries the agent's text.
type AgentResponse struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	HasTransaction bool   `json:"hasTransaction"`
	Timestamp      int64  `json:"timestamp"`
}

// Kind implements Outbound.
func (AgentResponse) Kind() string { return TypeAgentResponse }

// TransactionToSign carries unsigned transaction bytes for the signer.
type TransactionToSign struct {
	Type             string `json:"type"`
	TransactionBytes Bytes  `json:"transactionBytes"`
	OriginalQuery    string `json:"originalQuery"`
	Timestamp        int64  `json:"timestamp"`
}

// Kind implements Outbound.
func (TransactionToSign) Kind() string { return TypeTransactionToSign }

// SystemMessage is a notice from the relay itself.
type SystemMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	Timestamp int64  `json:"timestamp"`
}

// Kind implements Outbound.
func (SystemMessage) Kind() string { return TypeSystemMessage }

// SwapQuote carries a structured quote ahead of the text reply.
type SwapQuote struct {
	Type            string          `json:"type"`
	Quote           json.RawMessage `json:"quote"`
	OriginalMessage string          `json:"originalMessage"`
	Timestamp       int64           `json:"timestamp"`
}

// Kind implements Outbound.
func (SwapQuote) Kind() string { return TypeSwapQuote }

// Pong answers PING.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Kind implements Outbound.
func (Pong) Kind() string { return TypePong }

func nowMillis() int64 { return time.Now().UnixMilli() }

func newAgentResponse(msg string, hasTx bool) AgentResponse {
	return AgentResponse{Type: TypeAgentResponse, Message: msg, HasTransaction: hasTx, Timestamp: nowMillis()}
}

func newTransactionToSign(b []byte, query string) TransactionToSign {
	return TransactionToSign{Type: TypeTransactionToSign, TransactionBytes: Bytes(b), OriginalQuery: query, Timestamp: nowMillis()}
}

func newSystemMessage(level, msg string) SystemMessage {
	return SystemMessage{Type: TypeSystemMessage, Message: msg, Level: level, Timestamp: nowMillis()}
}

func newSwapQuote(q json.RawMessage, original string) SwapQuote {
	return SwapQuote{Type: TypeSwapQuote, Quote: q, OriginalMessage: original, Timestamp: nowMillis()}
}

func newPong() Pong {
	return Pong{Type: TypePong, Timestamp: nowMillis()}
}

// Bytes marshals as a JSON array of byte values, which browser signers can
// pass straight to Uint8Array. It unmarshals from an array or base64.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err == nil {
		out := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return fmt.Errorf("byte %d out of range: %d", i, n)
			}
			out[i] = byte(n)
		}
		*b = out
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("bytes must be an array or base64 string: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode base64 bytes: %w", err)
	}
	*b = raw
	return nil
}
