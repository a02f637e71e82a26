package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
)

// Limits bounds how much a Reader buffers for a single message.
type Limits struct {
	// MaxHeaderBytes bounds the start line plus header section.
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes bounds the decoded body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 1 << 20,  // 1MB
		MaxBodyBytes:   10 << 20, // 10MB
	}
}

// Reader reads HTTP/1.x messages from a byte stream. It owns a buffered reader,
// so one Reader must be used for the whole lifetime of a connection.
type Reader struct {
	br          *bufio.Reader
	limits      Limits
	headerBytes int
}

// NewReader wraps r. Zero limits fall back to DefaultLimits.
func NewReader(r io.Reader, limits Limits) *Reader {
	def := DefaultLimits()
	if limits.MaxHeaderBytes <= 0 {
		limits.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = def.MaxBodyBytes
	}
	return &Reader{
		br:     bufio.NewReader(r),
		limits: limits,
	}
}

// ReadRequest reads one request. It returns io.EOF, unwrapped, when the stream
// ends cleanly before the first byte of a request.
func (r *Reader) ReadRequest() (*Request, error) {
	line, err := r.readStartLine()
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: invalid request line %q", ErrMalformedMessage, line)
	}
	version, err := ParseVersion(parts[2])
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:  parts[0],
		Target:  parts[1],
		Version: version,
	}
	if err := r.readHeader(&req.Header); err != nil {
		return nil, err
	}

	switch {
	case chunked(&req.Header):
		req.Body, err = r.readChunked()
	case req.Header.Has(HeaderContentLength):
		req.Body, err = r.readContentLength(&req.Header)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ReadResponse reads one response to a request sent with requestMethod.
// Interim 1xx responses are skipped.
func (r *Reader) ReadResponse(requestMethod string) (*Response, error) {
	for {
		res, err := r.readResponse(requestMethod)
		if err != nil {
			return nil, err
		}
		if res.StatusCode >= 100 && res.StatusCode < 200 && res.StatusCode != http.StatusSwitchingProtocols {
			continue
		}
		return res, nil
	}
}

func (r *Reader) readResponse(requestMethod string) (*Response, error) {
	line, err := r.readStartLine()
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: invalid status line %q", ErrMalformedMessage, line)
	}
	version, err := ParseVersion(parts[0])
	if err != nil {
		return nil, err
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 3 {
		return nil, fmt.Errorf("%w: invalid status code %q", ErrMalformedMessage, parts[1])
	}

	res := &Response{
		Version:    version,
		StatusCode: status,
	}
	if len(parts) == 3 {
		res.Reason = parts[2]
	}
	if err := r.readHeader(&res.Header); err != nil {
		return nil, err
	}

	if requestMethod == http.MethodHead || !bodyAllowed(status) {
		return res, nil
	}

	switch {
	case chunked(&res.Header):
		res.Body, err = r.readChunked()
	case res.Header.Has(HeaderContentLength):
		res.Body, err = r.readContentLength(&res.Header)
	default:
		res.Body, err = r.readUntilEOF()
		res.closeDelimited = true
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// readStartLine skips leading empty lines and returns the first non-empty one.
func (r *Reader) readStartLine() (string, error) {
	r.headerBytes = 0
	for {
		line, err := r.readLine()
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

func (r *Reader) readHeader(h *Header) error {
	for {
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if line == "" {
			return nil
		}

		// obs-fold continuation
		if line[0] == ' ' || line[0] == '\t' {
			if h.Len() == 0 {
				return fmt.Errorf("%w: continuation line before first field", ErrMalformedMessage)
			}
			last := &h.fields[h.Len()-1]
			last.Value = last.Value + " " + strings.TrimSpace(line)
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 || strings.ContainsAny(line[:colon], " \t") {
			return fmt.Errorf("%w: invalid header line %q", ErrMalformedMessage, line)
		}
		h.Add(line[:colon], strings.TrimSpace(line[colon+1:]))
	}
}

// readLine returns one line without its terminating CRLF or LF, charging its
// length against the header budget.
func (r *Reader) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		r.headerBytes += len(chunk)
		if r.headerBytes > r.limits.MaxHeaderBytes {
			return "", ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line), nil
}

func (r *Reader) readContentLength(h *Header) ([]byte, error) {
	values := h.Values(HeaderContentLength)
	n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid content-length %q", ErrMalformedMessage, values[0])
	}
	for _, v := range values[1:] {
		if strings.TrimSpace(v) != strings.TrimSpace(values[0]) {
			return nil, fmt.Errorf("%w: conflicting content-length values", ErrMalformedMessage)
		}
	}
	if n > r.limits.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.br, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

func (r *Reader) readChunked() ([]byte, error) {
	body, err := r.readLimited(httputil.NewChunkedReader(r.br))
	if err != nil {
		return nil, err
	}

	// Trailer section; its fields are not retained.
	r.headerBytes = 0
	for {
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			return body, nil
		}
	}
}

func (r *Reader) readUntilEOF() ([]byte, error) {
	return r.readLimited(r.br)
}

func (r *Reader) readLimited(src io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(src, r.limits.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > r.limits.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// WriteRequest serializes req to w. The header is written as held, and the
// body is framed according to it.
func WriteRequest(w io.Writer, req *Request) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s %s %s\r\n", req.Method, req.Target, req.Version); err != nil {
		return err
	}
	if err := writeHeader(bw, &req.Header); err != nil {
		return err
	}
	if err := writeBody(bw, req.Body, req.Chunked()); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteResponse serializes res to w.
func WriteResponse(w io.Writer, res *Response) error {
	bw := bufio.NewWriter(w)
	reason := res.Reason
	if reason == "" {
		reason = http.StatusText(res.StatusCode)
	}
	if _, err := fmt.Fprintf(bw, "%s %03d %s\r\n", res.Version, res.StatusCode, reason); err != nil {
		return err
	}
	if err := writeHeader(bw, &res.Header); err != nil {
		return err
	}
	if bodyAllowed(res.StatusCode) {
		if err := writeBody(bw, res.Body, res.Chunked()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeHeader(bw *bufio.Writer, h *Header) error {
	for _, f := range h.fields {
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

func writeBody(bw *bufio.Writer, body []byte, isChunked bool) error {
	if !isChunked {
		_, err := bw.Write(body)
		return err
	}

	cw := httputil.NewChunkedWriter(bw)
	if len(body) > 0 {
		if _, err := cw.Write(body); err != nil {
			return err
		}
	}
	if err := cw.Close(); err != nil {
		return err
	}
	// empty trailer section
	_, err := bw.WriteString("\r\n")
	return err
}
