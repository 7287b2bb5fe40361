// Package codec 提供消息体编解码，内容类型随消息一起传递
package codec

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// Codec 编解码器
type Codec interface {
	// Name 配置中使用的名称
	Name() string

	// ContentType 写入消息的内容类型
	ContentType() string

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// JSON 默认编解码器
	JSON Codec = jsonCodec{}

	// CBOR 确定性编码的二进制编解码器
	CBOR Codec = cborCodec{}
)

// ByName 按配置名称查找，空串返回 JSON
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// ForContentType 按消息内容类型查找，空串视为 JSON
func ForContentType(contentType string) (Codec, error) {
	if contentType == "" {
		return JSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid content type %q: %w", contentType, err)
	}
	switch mediaType {
	case messaging.ContentTypeJSON, "text/json":
		return JSON, nil
	case messaging.ContentTypeCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return messaging.ContentTypeJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
