package memdproxy

import (
	"context"

	"github.com/couchbaselabs/memdproxy/memdx"
	"github.com/golang/snappy"
)

// DecompressValueTransform inflates snappy compressed values and clears the
// compressed datatype flag, for clients which never negotiated snappy.
func DecompressValueTransform(ctx context.Context, pak *memdx.Packet) (*memdx.Packet, error) {
	datatype := pak.DatatypeFlags()
	if !datatype.Has(memdx.DatatypeFlagCompressed) {
		return pak, nil
	}

	newValue, err := snappy.Decode(nil, pak.Value)
	if err != nil {
		return nil, err
	}

	if err := pak.SetBody(pak.Extras, pak.Key, newValue); err != nil {
		return nil, err
	}
	pak.Datatype = uint8(datatype &^ memdx.DatatypeFlagCompressed)
	return pak, nil
}

// CompressValueTransform snappy compresses values larger than minSize when
// the compressed:original ratio is no worse than minRatio.
func CompressValueTransform(minSize int, minRatio float64) Transform {
	return func(ctx context.Context, pak *memdx.Packet) (*memdx.Packet, error) {
		datatype := pak.DatatypeFlags()

		// If the packet is already compressed then we don't want to compress it again.
		if datatype.Has(memdx.DatatypeFlagCompressed) {
			return pak, nil
		}

		valueSize := len(pak.Value)
		if valueSize <= minSize {
			return pak, nil
		}

		compressedValue := snappy.Encode(nil, pak.Value)
		if float64(len(compressedValue))/float64(valueSize) > minRatio {
			return pak, nil
		}

		if err := pak.SetBody(pak.Extras, pak.Key, compressedValue); err != nil {
			return nil, err
		}
		pak.Datatype = uint8(datatype | memdx.DatatypeFlagCompressed)
		return pak, nil
	}
}
