package evaluator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/kyc-agency/internal/document"
)

type queueReply struct {
	text string
	err  error
}

type queueCaller struct {
	mu      sync.Mutex
	replies []queueReply
	prompts []string
	images  int
}

func (q *queueCaller) GenerateJSON(_ context.Context, prompt string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prompts = append(q.prompts, prompt)
	if len(q.replies) == 0 {
		return "", errors.New("no queued reply")
	}
	r := q.replies[0]
	q.replies = q.replies[1:]
	return r.text, r.err
}

type visionCaller struct {
	queueCaller
}

func (v *visionCaller) GenerateFromImage(ctx context.Context, prompt, _ string, _ []byte) (string, error) {
	v.mu.Lock()
	v.images++
	v.mu.Unlock()
	return v.GenerateJSON(ctx, prompt)
}

func newTestService(llm LLM, opts Options) *Service {
	s := NewService(llm, opts)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

var payload = map[string]any{
	"customer_data": map[string]any{
		"name":        "Jane Doe",
		"customer_id": "CUST007",
		"documents":   []map[string]any{{"id": "d1", "kind": "id_proof"}, {"id": "d2", "kind": "address_proof"}},
	},
}

func TestInvokeReturnsReply(t *testing.T) {
	llm := &queueCaller{replies: []queueReply{{text: `{"risk_analysis_results": {"risk_classification": "Low"}}`}}}
	out, err := newTestService(llm, Options{}).Invoke(context.Background(), StageRiskAnalysis, payload)
	require.NoError(t, err)
	assert.Contains(t, out, "risk_classification")
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "CUST007")
	assert.Contains(t, llm.prompts[0], "risk_classification")
}

func TestInvokeNotConfigured(t *testing.T) {
	llm := &queueCaller{}
	_, err := newTestService(llm, Options{Enabled: map[Stage]bool{StageCompliance: false}}).Invoke(context.Background(), StageCompliance, payload)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = newTestService(nil, Options{}).Invoke(context.Background(), StageCoordinator, payload)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = newTestService(llm, Options{}).Invoke(context.Background(), Stage("credit_check"), payload)
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Empty(t, llm.prompts)
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	llm := &queueCaller{replies: []queueReply{
		{err: errors.New("POST: status code: 503 overloaded")},
		{err: errors.New("429 too many requests")},
		{text: `{"compliance_status": "compliant"}`},
	}}
	out, err := newTestService(llm, Options{}).Invoke(context.Background(), StageCompliance, payload)
	require.NoError(t, err)
	assert.Contains(t, out, "compliant")
	assert.Len(t, llm.prompts, 3)
}

func TestInvokeDoesNotRetryClientErrors(t *testing.T) {
	llm := &queueCaller{replies: []queueReply{{err: errors.New("status code: 400 bad request")}}}
	_, err := newTestService(llm, Options{}).Invoke(context.Background(), StageCoordinator, payload)
	require.Error(t, err)
	assert.Len(t, llm.prompts, 1)
}

func TestInvokeGivesUpAfterMaxAttempts(t *testing.T) {
	llm := &queueCaller{replies: []queueReply{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
	}}
	_, err := newTestService(llm, Options{MaxAttempts: 2}).Invoke(context.Background(), StageCoordinator, payload)
	require.Error(t, err)
	assert.Len(t, llm.prompts, 2)
}

func TestInvokeEmptyReplyUsesSimplePrompt(t *testing.T) {
	llm := &queueCaller{replies: []queueReply{{text: "  "}, {text: "screening clear"}}}
	out, err := newTestService(llm, Options{}).Invoke(context.Background(), StageSanctionScreening, payload)
	require.NoError(t, err)
	assert.Equal(t, "screening clear", out)
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[1], "sanction screening check for customer Jane Doe (ID: CUST007)")
	assert.Contains(t, llm.prompts[1], "id_proof, address_proof")
}

func TestInvokeEmptyWithBothFormats(t *testing.T) {
	llm := &queueCaller{replies: []queueReply{{text: ""}, {text: ""}}}
	_, err := newTestService(llm, Options{}).Invoke(context.Background(), StageDocumentValidation, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response with both input formats")
}

func TestBuildSimplePromptAcceptsKindKeyedDocuments(t *testing.T) {
	p := BuildSimplePrompt(StageRiskAnalysis, []byte(`{"customer_data": {"documents": {"employment_proof": "e1"}}}`))
	assert.Contains(t, p, "employment_proof")
	assert.Contains(t, p, "customer unknown (ID: unknown)")
}

func TestClassifyTransportError(t *testing.T) {
	assert.Equal(t, failureServer, classifyTransportError(errors.New("failed after 5 retries while waiting 4 seconds")))
	assert.Equal(t, failureClient, classifyTransportError(errors.New("status code: 400 bad request")))
	assert.Equal(t, failureServer, classifyTransportError(errors.New("status=500 upstream error")))
	assert.Equal(t, failureRateLimit, classifyTransportError(errors.New("429")))
	assert.Equal(t, failureTimeout, classifyTransportError(context.DeadlineExceeded))
	assert.Equal(t, failureNone, classifyTransportError(nil))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
}

type fakeMessager struct {
	params anthropic.MessageNewParams
	reply  *anthropic.Message
}

func (f *fakeMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return f.reply, nil
}

func TestAnthropicCallerFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicCallerFromEnv(ModelOptions{})
	require.Error(t, err)

	fake := &fakeMessager{reply: &anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: `{"a":`},
		{Type: "thinking"},
		{Type: "text", Text: `1}`},
	}}}
	prev := newAnthropicClient
	newAnthropicClient = func(string) AnthropicMessager { return fake }
	t.Cleanup(func() { newAnthropicClient = prev })

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	caller, err := NewAnthropicCallerFromEnv(ModelOptions{MaxTokens: 1024})
	require.NoError(t, err)
	out, err := caller.GenerateJSON(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
	assert.Equal(t, int64(1024), fake.params.MaxTokens)
	assert.Equal(t, anthropic.ModelClaudeSonnet4_20250514, fake.params.Model)
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "letter.txt")
	require.NoError(t, os.WriteFile(txt, []byte("  Employer: Tech Corp  "), 0o600))
	c, err := ReadDocument(context.Background(), txt)
	require.NoError(t, err)
	assert.Equal(t, "Employer: Tech Corp", c.Text)
	assert.Equal(t, "text", c.Method)

	img := filepath.Join(dir, "passport.PNG")
	require.NoError(t, os.WriteFile(img, []byte{0x89, 'P', 'N', 'G'}, 0o600))
	c, err = ReadDocument(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "image/png", c.MediaType)
	assert.Len(t, c.Image, 4)

	pdf := filepath.Join(dir, "bill.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("\x00\x01Account holder: Jane Doe, 1 Elm Street\x00\x02"), 0o600))
	c, err = ReadDocument(context.Background(), pdf)
	require.NoError(t, err)
	assert.Contains(t, c.Text, "Account holder: Jane Doe")

	_, err = ReadDocument(context.Background(), filepath.Join(dir, "missing.pdf"))
	require.Error(t, err)
}

func TestTruncateTextKeepsRuneBoundary(t *testing.T) {
	text := strings.Repeat("a", maxTextRun-1) + "é" + strings.Repeat("b", 10)
	c := truncateText(text, "text")
	require.True(t, c.Truncated)
	assert.True(t, utf8.ValidString(c.Text))
	assert.NotContains(t, c.Text, string(utf8.RuneError))
	assert.Equal(t, strings.Repeat("a", maxTextRun-1)+"\n\n[TRUNCATED]", c.Text)

	short := truncateText("  Grüße  ", "text")
	assert.False(t, short.Truncated)
	assert.Equal(t, "Grüße", short.Text)
}

func TestDocumentExtractor(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "id.txt")
	require.NoError(t, os.WriteFile(txt, []byte("PASSPORT Jane Doe born 1990-01-15"), 0o600))

	llm := &queueCaller{replies: []queueReply{{text: "```json\n{\"first_name\": \"Jane\", \"last_name\": \"Doe\", \"dob\": \"1990-01-15\"}\n```"}}}
	rec, err := NewDocumentExtractor(llm).Extract(context.Background(), document.IDProof, txt)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", rec.FullName())
	assert.Contains(t, llm.prompts[0], "first_name, last_name, dob")
	assert.Contains(t, llm.prompts[0], "PASSPORT Jane Doe")

	img := filepath.Join(dir, "id.jpg")
	require.NoError(t, os.WriteFile(img, []byte{0xff, 0xd8}, 0o600))
	_, err = NewDocumentExtractor(&queueCaller{}).Extract(context.Background(), document.IDProof, img)
	require.Error(t, err)

	vision := &visionCaller{queueCaller{replies: []queueReply{{text: `{"nationality": "Irish"}`}}}}
	rec, err = NewDocumentExtractor(vision).Extract(context.Background(), document.IDProof, img)
	require.NoError(t, err)
	assert.Equal(t, "Irish", rec.Get("nationality"))
	assert.Equal(t, 1, vision.images)

	_, err = NewDocumentExtractor(nil).Extract(context.Background(), document.IDProof, txt)
	require.Error(t, err)
}

func TestExtractionPrompt(t *testing.T) {
	assert.Contains(t, ExtractionPrompt(document.EmploymentProof), "annual_salary")
	assert.Contains(t, ExtractionPrompt(document.Kind("other")), "any relevant fields")
}
