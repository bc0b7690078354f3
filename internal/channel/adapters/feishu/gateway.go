package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// messagingGateway is the primary platform API surface the pipeline depends
// on. Failures carry the platform code in their string form; the quota
// classifier parses exactly that.
type messagingGateway interface {
	SendText(ctx context.Context, receiveID, receiveType, text string) (string, string, error)
	SendMedia(ctx context.Context, receiveID, receiveType, mediaURL string) (string, string, error)
	UploadImage(ctx context.Context, data []byte) (string, error)
	AddReaction(ctx context.Context, messageID, reactionType string) (string, error)
	DeleteReaction(ctx context.Context, messageID, reactionID string) error
}

type larkGateway struct {
	client     *lark.Client
	httpClient *http.Client
}

func newLarkGateway(appID, appSecret, region string) *larkGateway {
	return &larkGateway{
		client:     lark.NewClient(appID, appSecret, lark.WithOpenBaseUrl(openBaseURL(region))),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *larkGateway) SendText(ctx context.Context, receiveID, receiveType, text string) (string, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", fmt.Errorf("message text is required")
	}
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", "", fmt.Errorf("marshal text content: %w", err)
	}
	return g.createMessage(ctx, receiveID, receiveType, larkim.MsgTypeText, string(content))
}

// SendMedia performs the platform-native media send: it acquires the
// reference, uploads it, and posts an image or file message.
func (g *larkGateway) SendMedia(ctx context.Context, receiveID, receiveType, mediaURL string) (string, string, error) {
	data, err := acquireMedia(ctx, g.httpClient, mediaURL)
	if err != nil {
		return "", "", err
	}
	if isImageReference(mediaURL) {
		imageKey, err := g.UploadImage(ctx, data)
		if err != nil {
			return "", "", err
		}
		content, err := json.Marshal(map[string]string{"image_key": imageKey})
		if err != nil {
			return "", "", fmt.Errorf("marshal image content: %w", err)
		}
		return g.createMessage(ctx, receiveID, receiveType, larkim.MsgTypeImage, string(content))
	}
	fileKey, err := g.uploadFile(ctx, mediaURL, data)
	if err != nil {
		return "", "", err
	}
	content, err := json.Marshal(map[string]string{"file_key": fileKey})
	if err != nil {
		return "", "", fmt.Errorf("marshal file content: %w", err)
	}
	return g.createMessage(ctx, receiveID, receiveType, larkim.MsgTypeFile, string(content))
}

func (g *larkGateway) createMessage(ctx context.Context, receiveID, receiveType, msgType, content string) (string, string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := g.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return "", "", err
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		return "", "", fmt.Errorf("feishu send failed: %s (code: %d)", msg, code)
	}
	messageID := ""
	chatID := ""
	if resp.Data != nil {
		if resp.Data.MessageId != nil {
			messageID = strings.TrimSpace(*resp.Data.MessageId)
		}
		if resp.Data.ChatId != nil {
			chatID = strings.TrimSpace(*resp.Data.ChatId)
		}
	}
	if messageID == "" {
		return "", "", fmt.Errorf("feishu send failed: empty message id")
	}
	return messageID, chatID, nil
}

func (g *larkGateway) UploadImage(ctx context.Context, data []byte) (string, error) {
	req := larkim.NewCreateImageReqBuilder().
		Body(larkim.NewCreateImageReqBodyBuilder().
			ImageType(larkim.ImageTypeMessage).
			Image(bytes.NewReader(data)).
			Build()).
		Build()
	resp, err := g.client.Im.V1.Image.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		return "", fmt.Errorf("feishu upload image failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || resp.Data.ImageKey == nil || strings.TrimSpace(*resp.Data.ImageKey) == "" {
		return "", fmt.Errorf("feishu upload image failed: empty image key")
	}
	return strings.TrimSpace(*resp.Data.ImageKey), nil
}

func (g *larkGateway) uploadFile(ctx context.Context, mediaURL string, data []byte) (string, error) {
	fileName := strings.TrimSpace(filepath.Base(referencePath(mediaURL)))
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = "attachment"
	}
	req := larkim.NewCreateFileReqBuilder().
		Body(larkim.NewCreateFileReqBodyBuilder().
			FileType(resolveFileType(fileName)).
			FileName(fileName).
			File(bytes.NewReader(data)).
			Build()).
		Build()
	resp, err := g.client.Im.V1.File.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		return "", fmt.Errorf("feishu upload file failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || resp.Data.FileKey == nil || strings.TrimSpace(*resp.Data.FileKey) == "" {
		return "", fmt.Errorf("feishu upload file failed: empty file key")
	}
	return strings.TrimSpace(*resp.Data.FileKey), nil
}

func (g *larkGateway) AddReaction(ctx context.Context, messageID, reactionType string) (string, error) {
	req := larkim.NewCreateMessageReactionReqBuilder().
		MessageId(messageID).
		Body(larkim.NewCreateMessageReactionReqBodyBuilder().
			ReactionType(larkim.NewEmojiBuilder().EmojiType(reactionType).Build()).
			Build()).
		Build()
	resp, err := g.client.Im.V1.MessageReaction.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		return "", fmt.Errorf("feishu add reaction failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || resp.Data.ReactionId == nil || strings.TrimSpace(*resp.Data.ReactionId) == "" {
		return "", fmt.Errorf("feishu add reaction failed: empty reaction id")
	}
	return strings.TrimSpace(*resp.Data.ReactionId), nil
}

func (g *larkGateway) DeleteReaction(ctx context.Context, messageID, reactionID string) error {
	req := larkim.NewDeleteMessageReactionReqBuilder().
		MessageId(messageID).
		ReactionId(reactionID).
		Build()
	resp, err := g.client.Im.V1.MessageReaction.Delete(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil || !resp.Success() {
		code := 0
		msg := ""
		if resp != nil {
			code = resp.Code
			msg = resp.Msg
		}
		return fmt.Errorf("feishu remove reaction failed: %s (code: %d)", msg, code)
	}
	return nil
}

// resolveFileType maps a filename to a lark file type constant.
func resolveFileType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return larkim.FileTypeMp4
	case ".pdf":
		return larkim.FileTypePdf
	case ".doc", ".docx":
		return larkim.FileTypeDoc
	case ".xls", ".xlsx":
		return larkim.FileTypeXls
	case ".ppt", ".pptx":
		return larkim.FileTypePpt
	default:
		return larkim.FileTypeStream
	}
}

func referencePath(ref string) string {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if idx := strings.IndexAny(ref, "?#"); idx >= 0 {
		ref = ref[:idx]
	}
	return ref
}
