package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// encMode 使用核心确定性编码（RFC 8949 §4.2）：map 键排序、最短整数编码
var encMode cbor.EncMode

// decMode any 目标解码为 map[string]any，与 JSON 解码结果形态一致
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string        { return "cbor" }
func (cborCodec) ContentType() string { return messaging.ContentTypeCBOR }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
