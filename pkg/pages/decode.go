package pages

// Decoded is the result of decoding a page of either kind.
type Decoded struct {
	Simple   *SimplePage // KindSimple only
	Metadata *Metadata   // KindJSON only
	Embedded *int64      // serial found in the body
}

// Anomalies returns the per-record problems found while decoding.
func (d *Decoded) Anomalies() []Anomaly {
	if d == nil || d.Simple == nil {
		return nil
	}
	return d.Simple.Anomalies
}

// Decode decodes body as a page of the given kind. On error the returned
// Decoded may still carry an embedded serial recovered from the body.
func Decode(kind Kind, body []byte) (*Decoded, error) {
	switch kind {
	case KindSimple:
		p, err := DecodeSimple(body)
		if err != nil {
			return &Decoded{}, err
		}
		return &Decoded{Simple: p, Embedded: p.Serial}, nil
	default:
		md, err := DecodeMetadata(body)
		if err != nil {
			return &Decoded{Embedded: EmbeddedSerial(body)}, err
		}
		return &Decoded{Metadata: md, Embedded: md.Serial}, nil
	}
}
