package memdx

// DatatypeFlag specifies data flags for the value of a packet.
type DatatypeFlag uint8

const (
	// DatatypeFlagJSON indicates the value payload is believed to be JSON.
	DatatypeFlagJSON = DatatypeFlag(0x01)

	// DatatypeFlagCompressed indicates the value payload is snappy compressed.
	DatatypeFlagCompressed = DatatypeFlag(0x02)

	// DatatypeFlagXattrs indicates the inclusion of xattr data in the value payload.
	DatatypeFlagXattrs = DatatypeFlag(0x04)
)

func (f DatatypeFlag) Has(flag DatatypeFlag) bool {
	return f&flag != 0
}
