package ingestion

import (
	"context"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// ServiceParserAdapter satisfies Parser over service.ParserService,
// which already implements Stage A's extension dispatch (native .docx,
// direct-download text formats, Document AI with fallback otherwise).
type ServiceParserAdapter struct {
	Parser *service.ParserService
}

func (a ServiceParserAdapter) Extract(ctx context.Context, gcsURI string) (*ParseResult, error) {
	res, err := a.Parser.Extract(ctx, gcsURI)
	if err != nil {
		return nil, err
	}
	return &ParseResult{Text: res.Text, Pages: res.Pages}, nil
}
