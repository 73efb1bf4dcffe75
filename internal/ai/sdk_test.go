package ai

import (
	"context"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/genai"
)

type fakeCompletions struct {
	got  openai.ChatCompletionNewParams
	resp *openai.ChatCompletion
}

func (f *fakeCompletions) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = body
	return f.resp, nil
}

func TestOpenAIRespond(t *testing.T) {
	t.Parallel()
	fc := &fakeCompletions{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "topics: radios"}}},
	}}
	p := newOpenAI(fc, OpenAIConfig{})
	rep, err := p.Respond(context.Background(), Request{Text: "what are we talking about?", SessionID: "s"})
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if rep.Text != "topics: radios" || rep.HasScore || rep.SessionID != "s" {
		t.Fatalf("unexpected reply: %+v", rep)
	}
	if string(fc.got.Model) != DefaultOpenAIModel || len(fc.got.Messages) != 2 {
		t.Fatalf("unexpected params: model=%s messages=%d", fc.got.Model, len(fc.got.Messages))
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	t.Parallel()
	p := newOpenAI(&fakeCompletions{resp: &openai.ChatCompletion{}}, OpenAIConfig{})
	if _, err := p.Respond(context.Background(), Request{Text: "q"}); err != ErrEmptyReply {
		t.Fatalf("err = %v, want ErrEmptyReply", err)
	}
}

type fakeModels struct {
	model  string
	config *genai.GenerateContentConfig
	text   string
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.config = model, config
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func TestGeminiRespond(t *testing.T) {
	t.Parallel()
	fm := &fakeModels{text: "hello from gemini"}
	p := newGemini(fm, GeminiConfig{SystemPrompt: "be brief"})
	rep, err := p.Respond(context.Background(), Request{Text: "hi", Context: "ctx"})
	if err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	if rep.Text != "hello from gemini" {
		t.Fatalf("Text = %q", rep.Text)
	}
	if fm.model != DefaultGeminiModel || fm.config == nil || fm.config.SystemInstruction == nil {
		t.Fatalf("unexpected call: model=%s config=%+v", fm.model, fm.config)
	}
	if got := fm.config.SystemInstruction.Parts[0].Text; got != "be brief\n\nctx" {
		t.Fatalf("system instruction = %q", got)
	}
}
