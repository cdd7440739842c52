// Package fits reads and writes FITS image files: 2880-byte blocks of
// 80-character header cards followed by big-endian pixel data.
package fits

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// Card is a single header record.
type Card struct {
	Key     string
	Value   string // raw FITS representation, quotes stripped for strings
	IsStr   bool
	Comment string
}

// Header is an ordered set of cards. Order matters when writing, so we
// keep the card slice and index it by key.
type Header struct {
	cards []Card
	index map[string]int
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// Get returns the raw value for key.
func (h *Header) Get(key string) (string, bool) {
	i, ok := h.index[key]
	if !ok {
		return "", false
	}
	return h.cards[i].Value, true
}

// Str returns a string-valued card.
func (h *Header) Str(key string) (string, bool) {
	v, ok := h.Get(key)
	return strings.TrimSpace(v), ok
}

// Int returns an integer-valued card.
func (h *Header) Int(key string) (int, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float returns a float-valued card. Integer cards parse too.
func (h *Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	// FITS allows FORTRAN-style exponents (1.0D-5)
	s := strings.ReplaceAll(strings.TrimSpace(v), "D", "E")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool returns a logical-valued card (T or F).
func (h *Header) Bool(key string) (bool, bool) {
	v, ok := h.Get(key)
	if !ok {
		return false, false
	}
	return strings.TrimSpace(v) == "T", true
}

// Set adds or replaces a card with a raw value.
func (h *Header) Set(key, value, comment string) {
	h.set(Card{Key: key, Value: value, Comment: comment})
}

// SetStr adds or replaces a string card.
func (h *Header) SetStr(key, value, comment string) {
	h.set(Card{Key: key, Value: value, IsStr: true, Comment: comment})
}

// SetInt adds or replaces an integer card.
func (h *Header) SetInt(key string, value int, comment string) {
	h.Set(key, strconv.Itoa(value), comment)
}

// SetFloat adds or replaces a float card.
func (h *Header) SetFloat(key string, value float64, comment string) {
	h.Set(key, strconv.FormatFloat(value, 'G', -1, 64), comment)
}

// SetBool adds or replaces a logical card.
func (h *Header) SetBool(key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	h.Set(key, v, comment)
}

// Delete removes a card if present.
func (h *Header) Delete(key string) {
	i, ok := h.index[key]
	if !ok {
		return
	}
	h.cards = append(h.cards[:i], h.cards[i+1:]...)
	delete(h.index, key)
	for k, j := range h.index {
		if j > i {
			h.index[k] = j - 1
		}
	}
}

// Cards returns the cards in file order.
func (h *Header) Cards() []Card {
	return h.cards
}

// Merge copies cards from other that are not already present and are not
// structural keywords (SIMPLE, BITPIX, NAXIS*, XTENSION, PCOUNT, GCOUNT).
func (h *Header) Merge(other *Header) {
	for _, c := range other.cards {
		if isStructural(c.Key) {
			continue
		}
		if _, ok := h.index[c.Key]; ok {
			continue
		}
		h.set(c)
	}
}

func (h *Header) set(c Card) {
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if i, ok := h.index[c.Key]; ok {
		h.cards[i] = c
		return
	}
	h.index[c.Key] = len(h.cards)
	h.cards = append(h.cards, c)
}

func isStructural(key string) bool {
	switch key {
	case "SIMPLE", "XTENSION", "BITPIX", "NAXIS", "PCOUNT", "GCOUNT", "EXTEND", "END":
		return true
	}
	return strings.HasPrefix(key, "NAXIS")
}

// Image is a single 2-D image HDU with pixels unpacked to float32.
type Image struct {
	Name   string // EXTNAME, empty for the primary HDU
	Width  int
	Height int
	Header *Header
	Data   []float32 // row-major, Width*Height
}

// At returns the pixel at (x, y). No bounds check.
func (img *Image) At(x, y int) float32 {
	return img.Data[y*img.Width+x]
}

// SetAt stores the pixel at (x, y).
func (img *Image) SetAt(x, y int, v float32) {
	img.Data[y*img.Width+x] = v
}

// HDU is one header-data unit. Data is nil for headers without an image
// payload (the usual case for an i2d primary HDU) and for non-image
// extensions such as binary tables, whose payload is skipped.
type HDU struct {
	Header *Header
	Image  *Image
}

// ReadFile reads every HDU from path.
func ReadFile(path string) ([]HDU, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	hdus, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hdus, nil
}

// Read reads HDUs from r until EOF.
func Read(r io.Reader) ([]HDU, error) {
	var hdus []HDU
	for {
		hdr, err := readHeader(r)
		if err == io.EOF && len(hdus) > 0 {
			return hdus, nil
		}
		if err != nil {
			return nil, err
		}
		hdu := HDU{Header: hdr}

		bitpix, _ := hdr.Int("BITPIX")
		naxis, _ := hdr.Int("NAXIS")
		npix := 1
		axes := make([]int, naxis)
		for i := 1; i <= naxis; i++ {
			n, ok := hdr.Int(fmt.Sprintf("NAXIS%d", i))
			if !ok {
				return nil, fmt.Errorf("missing NAXIS%d", i)
			}
			axes[i-1] = n
			npix *= n
		}

		xtension, _ := hdr.Str("XTENSION")
		isImage := xtension == "" || xtension == "IMAGE"

		if naxis >= 2 && npix > 0 && isImage {
			img, err := readData(r, hdr, bitpix, axes, npix)
			if err != nil {
				return nil, err
			}
			hdu.Image = img
		} else if npix > 0 && naxis > 0 {
			if err := skipData(r, hdr, bitpix, npix); err != nil {
				return nil, err
			}
		}

		hdus = append(hdus, hdu)
	}
}

// ImageByName returns the image HDU whose EXTNAME matches name.
func ImageByName(hdus []HDU, name string) (*Image, error) {
	for _, h := range hdus {
		if h.Image == nil {
			continue
		}
		if ext, _ := h.Header.Str("EXTNAME"); ext == name {
			return h.Image, nil
		}
	}
	return nil, fmt.Errorf("no %s image extension", name)
}

func readHeader(r io.Reader) (*Header, error) {
	hdr := NewHeader()
	block := make([]byte, blockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			return nil, err
		}
		for off := 0; off < blockSize; off += cardSize {
			card := block[off : off+cardSize]
			key := strings.TrimRight(string(card[:8]), " ")
			if key == "END" {
				return hdr, nil
			}
			if key == "" || key == "COMMENT" || key == "HISTORY" {
				continue
			}
			if string(card[8:10]) != "= " {
				continue
			}
			c := parseValue(key, string(card[10:]))
			hdr.set(c)
		}
	}
}

func parseValue(key, body string) Card {
	body = strings.TrimLeft(body, " ")
	if strings.HasPrefix(body, "'") {
		// quoted string, '' escapes a quote
		var sb strings.Builder
		i := 1
		for i < len(body) {
			if body[i] == '\'' {
				if i+1 < len(body) && body[i+1] == '\'' {
					sb.WriteByte('\'')
					i += 2
					continue
				}
				i++
				break
			}
			sb.WriteByte(body[i])
			i++
		}
		comment := strings.TrimSpace(body[i:])
		comment = strings.TrimPrefix(comment, "/ ")
		return Card{Key: key, Value: strings.TrimRight(sb.String(), " "), IsStr: true, Comment: comment}
	}
	value := body
	comment := ""
	if slash := strings.IndexByte(body, '/'); slash >= 0 {
		value = body[:slash]
		comment = strings.TrimSpace(body[slash+1:])
	}
	return Card{Key: key, Value: strings.TrimSpace(value), Comment: comment}
}

func bytesPerPixel(bitpix int) (int, error) {
	switch bitpix {
	case 8:
		return 1, nil
	case 16, -16:
		return 2, nil
	case 32, -32:
		return 4, nil
	case 64, -64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported BITPIX %d", bitpix)
}

func readData(r io.Reader, hdr *Header, bitpix int, axes []int, npix int) (*Image, error) {
	bpp, err := bytesPerPixel(bitpix)
	if err != nil {
		return nil, err
	}
	size := npix * bpp
	raw := make([]byte, padded(size))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read image data: %w", err)
	}

	bzero := 0.0
	bscale := 1.0
	if v, ok := hdr.Float("BZERO"); ok {
		bzero = v
	}
	if v, ok := hdr.Float("BSCALE"); ok {
		bscale = v
	}

	data := make([]float32, npix)
	switch bitpix {
	case 8:
		for i := 0; i < npix; i++ {
			data[i] = float32(bzero + bscale*float64(raw[i]))
		}
	case 16:
		for i := 0; i < npix; i++ {
			v := int16(binary.BigEndian.Uint16(raw[2*i:]))
			data[i] = float32(bzero + bscale*float64(v))
		}
	case 32:
		for i := 0; i < npix; i++ {
			v := int32(binary.BigEndian.Uint32(raw[4*i:]))
			data[i] = float32(bzero + bscale*float64(v))
		}
	case 64:
		for i := 0; i < npix; i++ {
			v := int64(binary.BigEndian.Uint64(raw[8*i:]))
			data[i] = float32(bzero + bscale*float64(v))
		}
	case -32:
		for i := 0; i < npix; i++ {
			v := math.Float32frombits(binary.BigEndian.Uint32(raw[4*i:]))
			data[i] = float32(bzero + bscale*float64(v))
		}
	case -64:
		for i := 0; i < npix; i++ {
			v := math.Float64frombits(binary.BigEndian.Uint64(raw[8*i:]))
			data[i] = float32(bzero + bscale*float64(v))
		}
	}

	name, _ := hdr.Str("EXTNAME")
	img := &Image{
		Name:   name,
		Width:  axes[0],
		Height: axes[1],
		Header: hdr,
		Data:   data,
	}
	return img, nil
}

func skipData(r io.Reader, hdr *Header, bitpix int, npix int) error {
	bpp, err := bytesPerPixel(bitpix)
	if err != nil {
		return err
	}
	size := npix * bpp
	// tables carry PCOUNT bytes of heap after the main data
	if pcount, ok := hdr.Int("PCOUNT"); ok {
		size += pcount
	}
	if gcount, ok := hdr.Int("GCOUNT"); ok && gcount > 1 {
		size *= gcount
	}
	_, err = io.CopyN(io.Discard, r, int64(padded(size)))
	return err
}

func padded(n int) int {
	if rem := n % blockSize; rem != 0 {
		return n + blockSize - rem
	}
	return n
}
