//go:build !libpostal

package normalize

// LibpostalAvailable reports whether this binary was built with libpostal
const LibpostalAvailable = false

// ParseLibpostal is unavailable without the libpostal build tag
func ParseLibpostal(fullAddress string) (Components, error) {
	return Components{}, ErrLibpostalUnavailable
}
