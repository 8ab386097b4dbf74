package cache

import "github.com/tinylib/msgp/msgp"

// MarshalMsg implements msgp.Marshaler, hand-written in the shape msgp's
// code generator produces, matching the teacher's use of generated
// MarshalMsg/UnmarshalMsg on its own cached document type
// (internal/proxy/engines/cache.go's model.HTTPDocument).
func (e *Entry) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 7)
	o = msgp.AppendString(o, "host")
	o = msgp.AppendString(o, e.Host)
	o = msgp.AppendString(o, "path")
	o = msgp.AppendString(o, e.Path)
	o = msgp.AppendString(o, "response")
	o = msgp.AppendBytes(o, e.Response)
	o = msgp.AppendString(o, "compressed")
	o = msgp.AppendBool(o, e.Compressed)
	o = msgp.AppendString(o, "size")
	o = msgp.AppendInt64(o, e.Size)
	o = msgp.AppendString(o, "frequency")
	o = msgp.AppendInt64(o, e.Frequency)
	o = msgp.AppendString(o, "score")
	o = msgp.AppendFloat64(o, e.Score)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (e *Entry) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < n; i++ {
		var field string
		field, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return b, err
		}
		switch field {
		case "host":
			e.Host, b, err = msgp.ReadStringBytes(b)
		case "path":
			e.Path, b, err = msgp.ReadStringBytes(b)
		case "response":
			e.Response, b, err = msgp.ReadBytesBytes(b, nil)
		case "compressed":
			e.Compressed, b, err = msgp.ReadBoolBytes(b)
		case "size":
			e.Size, b, err = msgp.ReadInt64Bytes(b)
		case "frequency":
			e.Frequency, b, err = msgp.ReadInt64Bytes(b)
		case "score":
			e.Score, b, err = msgp.ReadFloat64Bytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}
