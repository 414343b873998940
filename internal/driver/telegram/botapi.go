package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
)

// SentDocument is what the Bot API hands back for one sendDocument call.
type SentDocument struct {
	FileID       string
	FileUniqueID string
	MessageID    int64
}

// BotAPI is the seam between this driver's chunking/idempotency policy and
// the Telegram Bot API's wire format. A production gateway backs it with
// httpBotAPI; tests back it with a fake that never touches the network.
type BotAPI interface {
	// SendDocument uploads one chunk as a document attachment.
	SendDocument(ctx context.Context, chatID, filename string, data io.Reader, size int64) (SentDocument, error)
}

type httpBotAPI struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewHTTPBotAPI builds a BotAPI that calls the real Telegram Bot API over
// HTTP using client (a caller-owned *http.Client so its timeout and
// transport pooling stay under the gateway's control).
func NewHTTPBotAPI(token, baseURL string, client *http.Client) BotAPI {
	return &httpBotAPI{token: token, baseURL: baseURL, client: client}
}

type sendDocumentResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result struct {
		MessageID int64 `json:"message_id"`
		Document  struct {
			FileID       string `json:"file_id"`
			FileUniqueID string `json:"file_unique_id"`
			FileSize     int64  `json:"file_size"`
		} `json:"document"`
	} `json:"result"`
}

func (b *httpBotAPI) SendDocument(ctx context.Context, chatID, filename string, data io.Reader, size int64) (SentDocument, error) {
	body := &multipartBody{}
	if err := body.writeField("chat_id", chatID); err != nil {
		return SentDocument{}, gwerrors.Infrastructure(gwerrors.ErrCodeSendFailed, "build multipart body").WithCause(err)
	}
	if err := body.writeFile("document", filename, data); err != nil {
		return SentDocument{}, gwerrors.Infrastructure(gwerrors.ErrCodeSendFailed, "build multipart body").WithCause(err)
	}
	if err := body.close(); err != nil {
		return SentDocument{}, gwerrors.Infrastructure(gwerrors.ErrCodeSendFailed, "build multipart body").WithCause(err)
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", b.baseURL, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body.buf)
	if err != nil {
		return SentDocument{}, gwerrors.Infrastructure(gwerrors.ErrCodeSendFailed, "build request").WithCause(err)
	}
	req.Header.Set("Content-Type", body.contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return SentDocument{}, gwerrors.Upstream(gwerrors.ErrCodeSendFailed, "sendDocument request failed").WithCause(err)
	}
	defer resp.Body.Close()

	var parsed sendDocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SentDocument{}, gwerrors.Upstream(gwerrors.ErrCodeSendFailed, "decode sendDocument response").WithCause(err)
	}

	if !parsed.OK {
		if parsed.ErrorCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parsed.Parameters.RetryAfter
			if retryAfter <= 0 {
				retryAfter = 1
			}
			return SentDocument{}, gwerrors.Upstream(gwerrors.ErrCodeResourceExhausted, parsed.Description).
				WithDetail("retry_after_seconds", retryAfter)
		}
		return SentDocument{}, gwerrors.Upstream(gwerrors.ErrCodeSendFailed, parsed.Description).
			WithDetail("telegram_error_code", parsed.ErrorCode)
	}

	return SentDocument{
		FileID:       parsed.Result.Document.FileID,
		FileUniqueID: parsed.Result.Document.FileUniqueID,
		MessageID:    parsed.Result.MessageID,
	}, nil
}

// multipartBody builds a multipart/form-data body for one chunk upload.
type multipartBody struct {
	buf         bytes.Buffer
	writer      *multipart.Writer
	contentType string
}

func (m *multipartBody) writeField(name, value string) error {
	m.ensure()
	return m.writer.WriteField(name, value)
}

func (m *multipartBody) writeFile(field, filename string, data io.Reader) error {
	m.ensure()
	part, err := m.writer.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, data)
	return err
}

func (m *multipartBody) close() error {
	m.ensure()
	m.contentType = m.writer.FormDataContentType()
	return m.writer.Close()
}

func (m *multipartBody) ensure() {
	if m.writer == nil {
		m.writer = multipart.NewWriter(&m.buf)
	}
}
