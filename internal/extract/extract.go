// Package extract pulls structured artifacts out of an agent response.
// Every function is independent: a malformed observation only hides the
// artifact it was meant to carry.
package extract

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rofergon/Hedron/internal/agent"
	"github.com/rofergon/Hedron/internal/domain"
)

// document is one decoded JSON object from the response, tagged with the
// tool that produced it.
type document struct {
	tool string
	body map[string]any
}

// documents decodes every observation that is a JSON object, in order,
// followed by the final output when it is itself a JSON object.
func documents(resp *agent.Response) []document {
	if resp == nil {
		return nil
	}
	var docs []document
	for _, s := range resp.Steps {
		if m, ok := decodeObject(s.Observation); ok {
			docs = append(docs, document{tool: s.Tool, body: m})
		}
	}
	if m, ok := decodeObject(resp.Output); ok {
		docs = append(docs, document{body: m})
	}
	return docs
}

func decodeObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false
	}
	return m, true
}

// Byte tiers, lowest preferred.
const (
	tierAssociation = iota
	tierApproval
	tierOther
)

type candidate struct {
	tier  int
	bytes []byte
}

// TransactionBytes returns the transaction the caller should sign next.
// Association bytes win over approval bytes, which win over anything else;
// within a tier the latest candidate wins.
func TransactionBytes(resp *agent.Response) ([]byte, bool) {
	var cands []candidate
	for _, d := range documents(resp) {
		collectBytes(d.body, tierOther, &cands)
	}
	var best *candidate
	for i := range cands {
		c := &cands[i]
		if best == nil || c.tier <= best.tier {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return best.bytes, true
}

func collectBytes(m map[string]any, inherited int, out *[]candidate) {
	tier := inherited
	for _, k := range []string{"step", "type", "kind", "stage"} {
		if s, ok := m[k].(string); ok {
			if t, ok := tierOf(s); ok {
				tier = t
				break
			}
		}
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		keyTier := tier
		if t, ok := tierOf(k); ok {
			keyTier = t
		}
		if isBytesKey(k) {
			if b, err := decodeCandidate(k, v); err == nil && len(b) > 0 {
				*out = append(*out, candidate{tier: keyTier, bytes: b})
				continue
			}
		}
		switch child := v.(type) {
		case map[string]any:
			if isBuffer(child) {
				continue
			}
			collectBytes(child, keyTier, out)
		case []any:
			for _, item := range child {
				if cm, ok := item.(map[string]any); ok {
					collectBytes(cm, keyTier, out)
				}
			}
		}
	}
}

func tierOf(s string) (int, bool) {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "associat"):
		return tierAssociation, true
	case strings.Contains(s, "approv"):
		return tierApproval, true
	}
	return 0, false
}

func isBytesKey(k string) bool {
	switch strings.ToLower(k) {
	case "bytes", "transaction", "unsignedtransaction", "rawtransaction":
		return true
	}
	return isExplicitBytesKey(k)
}

// isExplicitBytesKey reports keys that only ever name transaction bytes.
func isExplicitBytesKey(k string) bool {
	k = strings.ToLower(k)
	return strings.HasSuffix(k, "transactionbytes") || strings.HasSuffix(k, "txbytes")
}

// minGenericBytes is the shortest string payload accepted under a generic
// key such as "transaction".
const minGenericBytes = 32

// decodeCandidate decodes v found under key. Strings under generic keys must
// be 0x-hex or padded standard base64 of at least minGenericBytes.
func decodeCandidate(key string, v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok || isExplicitBytesKey(key) {
		return DecodeBytes(v)
	}
	s = strings.TrimSpace(s)
	var (
		b   []byte
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err = DecodeBytes(s)
	} else {
		b, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, err
	}
	if len(b) < minGenericBytes {
		return nil, fmt.Errorf("%d bytes under %q is too short for a transaction", len(b), key)
	}
	return b, nil
}

func isBuffer(m map[string]any) bool {
	t, _ := m["type"].(string)
	_, hasData := m["data"]
	return t == "Buffer" && hasData
}

// DecodeBytes accepts a base64 string, a 0x-prefixed hex string, a JSON
// array of byte values, or a Node Buffer object {"type":"Buffer","data":[...]}.
func DecodeBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, fmt.Errorf("empty string")
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			return hexutil.Decode("0x" + s[2:])
		}
		for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
			if b, err := enc.DecodeString(s); err == nil {
				return b, nil
			}
		}
		return nil, fmt.Errorf("not base64 or hex")
	case []any:
		out := make([]byte, len(t))
		for i, x := range t {
			f, ok := x.(float64)
			if !ok || f < 0 || f > 255 || f != float64(int(f)) {
				return nil, fmt.Errorf("element %d is not a byte", i)
			}
			out[i] = byte(f)
		}
		return out, nil
	case map[string]any:
		if !isBuffer(t) {
			return nil, fmt.Errorf("object is not a Buffer")
		}
		return DecodeBytes(t["data"])
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// PendingStep returns the continuation announced by the latest observation
// carrying a nextStep object with a non-empty step.
func PendingStep(resp *agent.Response) (*domain.PendingStep, bool) {
	var found *domain.PendingStep
	for _, d := range documents(resp) {
		if p := pendingFrom(d); p != nil {
			found = p
		}
	}
	return found, found != nil
}

func pendingFrom(d document) *domain.PendingStep {
	raw, ok := d.body["nextStep"].(map[string]any)
	if !ok {
		data, _ := d.body["data"].(map[string]any)
		if raw, ok = data["nextStep"].(map[string]any); !ok {
			return nil
		}
	}
	step := firstString(raw, "step", "name")
	if step == "" {
		return nil
	}
	tool := firstString(raw, "tool")
	if tool == "" {
		tool = d.tool
	}
	if tool == "" {
		return nil
	}
	p := &domain.PendingStep{
		Tool:                 tool,
		Step:                 step,
		NextStepInstructions: firstString(raw, "nextStepInstructions", "instructions"),
	}
	for _, k := range []string{"originalParams", "params"} {
		if params, ok := raw[k].(map[string]any); ok {
			p.OriginalParams = params
			break
		}
	}
	return p
}

// Quote returns the latest swap quote, either a document of type
// "swap_quote" or a "quote" object.
func Quote(resp *agent.Response) (json.RawMessage, bool) {
	var found map[string]any
	for _, d := range documents(resp) {
		if t, _ := d.body["type"].(string); t == "swap_quote" {
			found = d.body
			continue
		}
		if q, ok := d.body["quote"].(map[string]any); ok {
			found = q
		}
	}
	if found == nil {
		return nil, false
	}
	raw, err := json.Marshal(found)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Operation returns the latest operation summary context. It reads either
// an "operation" object or sibling "protocol"/"operation" strings.
func Operation(resp *agent.Response) (*domain.OperationContext, bool) {
	var found *domain.OperationContext
	for _, d := range documents(resp) {
		if op := operationFrom(d.body); op != nil {
			found = op
		}
	}
	return found, found != nil
}

func operationFrom(m map[string]any) *domain.OperationContext {
	src := m
	if obj, ok := m["operation"].(map[string]any); ok {
		src = obj
	} else if _, ok := m["operation"].(string); !ok {
		return nil
	}
	op := &domain.OperationContext{
		Protocol:    firstString(src, "protocol"),
		Operation:   firstString(src, "operation", "type", "kind"),
		AmountLabel: firstString(src, "amount", "amountLabel"),
	}
	if op.Protocol == "" {
		op.Protocol = firstString(m, "protocol")
	}
	if op.Protocol == "" || op.Operation == "" {
		return nil
	}
	if toks, ok := src["tokens"].([]any); ok {
		for _, t := range toks {
			if s, ok := t.(string); ok && s != "" {
				op.Tokens = append(op.Tokens, s)
			}
		}
	}
	return op
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
