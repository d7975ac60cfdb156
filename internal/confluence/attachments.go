package confluence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/meridian-labs/wikidex/internal/errkind"
	"github.com/meridian-labs/wikidex/internal/retry"
)

const maxAttachmentBytes = 20 << 20

type attachmentResult struct {
	Results []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Metadata struct {
			MediaType string `json:"mediaType"`
		} `json:"metadata"`
		Links struct {
			Download string `json:"download"`
		} `json:"_links"`
	} `json:"results"`
}

// ListAttachments returns the attachments of a page.
func (c *Client) ListAttachments(ctx context.Context, pageID string) ([]Attachment, error) {
	q := url.Values{"limit": {"100"}}
	var res attachmentResult
	op := "confluence: list attachments " + pageID
	if err := c.get(ctx, op, apiPrefix+"/content/"+pageID+"/child/attachment", q, &res); err != nil {
		return nil, err
	}

	atts := make([]Attachment, 0, len(res.Results))
	for _, a := range res.Results {
		atts = append(atts, Attachment{
			ID:        a.ID,
			Title:     a.Title,
			MediaType: a.Metadata.MediaType,
			Download:  a.Links.Download,
		})
	}
	return atts, nil
}

// DownloadAttachment fetches an attachment's raw bytes.
func (c *Client) DownloadAttachment(ctx context.Context, att Attachment) ([]byte, error) {
	op := "confluence: download attachment " + att.ID
	var data []byte
	err := retry.Do(ctx, c.retryCfg, op, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/wiki"+att.Download, nil)
		if err != nil {
			return errkind.Wrap(errkind.InvalidArgument, op, err)
		}
		req.Header.Set("Authorization", c.authHeader)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errkind.Wrap(errkind.SourceUnavailable, op, err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(op, resp.StatusCode); err != nil {
			return err
		}

		data, err = io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
		if err != nil {
			return errkind.Wrap(errkind.SourceUnavailable, op, err)
		}
		return nil
	})
	return data, err
}

// AttachmentText extracts plain text from a supported attachment. PDF is
// the only binary format handled; everything else returns ok=false and is
// skipped by the sync.
func AttachmentText(att Attachment, data []byte) (string, bool, error) {
	switch {
	case att.MediaType == "application/pdf" || strings.HasSuffix(strings.ToLower(att.Title), ".pdf"):
		text, err := pdfText(data)
		if err != nil {
			return "", false, fmt.Errorf("extracting pdf text from %s: %w", att.Title, err)
		}
		return text, true, nil
	case strings.HasPrefix(att.MediaType, "text/"):
		return cleanWhitespace(string(data)), true, nil
	default:
		return "", false, nil
	}
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	return cleanWhitespace(b.String()), nil
}
