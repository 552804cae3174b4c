package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	MaxChunkSize   = 1000 // raw bytes carried by one DATA frame
	RecvBufferSize = 5000 // fits a base64 chunk plus framing text
	ReasonNotFound = "NOT_FOUND"
)

const (
	tokenDownload = "DOWNLOAD"
	tokenFile     = "FILE"
	tokenGet      = "GET"
	tokenStart    = "START"
	tokenEnd      = "END"
	tokenData     = "DATA"
	tokenClose    = "CLOSE"
	tokenCloseOK  = "CLOSE_OK"
	tokenOK       = "OK"
	tokenErr      = "ERR"
	tokenSize     = "SIZE"
	tokenPort     = "PORT"
)

var ErrMalformed = errors.New("malformed message")

// Request is one of Download, Get or Close.
type Request interface {
	isRequest()
}

type Download struct {
	Filename string
}

type Get struct {
	Start int64
	End   int64
}

type Close struct{}

func (Download) isRequest() {}
func (Get) isRequest()      {}
func (Close) isRequest()    {}

// Response is one of Ok, Err, DataChunk or CloseOk. Frame renders the
// exact text sent on the wire.
type Response interface {
	Frame() string
}

type Ok struct {
	Filename string
	Size     int64
	Port     int
}

type Err struct {
	Filename string
	Reason   string
}

type DataChunk struct {
	Filename string
	Start    int64
	End      int64
	Payload  []byte
}

type CloseOk struct {
	Filename string
}

func (r Ok) Frame() string {
	return fmt.Sprintf("%s %s %s %d %s %d", tokenOK, r.Filename, tokenSize, r.Size, tokenPort, r.Port)
}

func (r Err) Frame() string {
	return fmt.Sprintf("%s %s %s", tokenErr, r.Filename, r.Reason)
}

func (r DataChunk) Frame() string {
	return fmt.Sprintf("%s %s %s %s %d %s %d %s %s", tokenFile, r.Filename, tokenOK, tokenStart, r.Start, tokenEnd, r.End,
		tokenData, base64.StdEncoding.EncodeToString(r.Payload))
}

func (r CloseOk) Frame() string {
	return fmt.Sprintf("%s %s %s", tokenFile, r.Filename, tokenCloseOK)
}

// ParseDownload decodes a discovery datagram received on the well-known
// endpoint.
func ParseDownload(frame string) (Download, error) {
	msg := trimFrame(frame)
	rest, ok := strings.CutPrefix(msg, tokenDownload)
	if !ok || rest == "" || !isSpace(rest[0]) {
		return Download{}, fmt.Errorf("%w: not a %s request", ErrMalformed, tokenDownload)
	}
	filename := trimFrame(rest)
	if filename == "" {
		return Download{}, fmt.Errorf("%w: empty filename", ErrMalformed)
	}
	return Download{Filename: filename}, nil
}

// ParseSessionRequest decodes a datagram received on a session endpoint.
// The filename field is not checked; a session already knows what it
// serves.
func ParseSessionRequest(frame string) (Request, error) {
	msg := trimFrame(frame)
	if !strings.HasPrefix(msg, tokenFile) {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrMalformed, tokenFile)
	}
	// a GET always ends with a number, so a trailing CLOSE is unambiguous
	if strings.HasSuffix(msg, " "+tokenClose) {
		return Close{}, nil
	}
	getIdx := strings.LastIndex(msg, " "+tokenGet+" ")
	if getIdx < 0 {
		if strings.Contains(msg, tokenClose) {
			return Close{}, nil
		}
		return nil, fmt.Errorf("%w: unknown request", ErrMalformed)
	}
	start, end, err := parseRange(msg[getIdx:])
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: invalid range %d-%d", ErrMalformed, start, end)
	}
	return Get{Start: start, End: end}, nil
}

// trimFrame strips leading and trailing whitespace and control bytes, so
// NUL-padded datagrams parse like clean ones.
func trimFrame(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return r <= ' ' })
}

// parseRange extracts the numbers following START and END in s.
func parseRange(s string) (int64, int64, error) {
	startIdx := strings.Index(s, tokenStart)
	if startIdx < 0 {
		return 0, 0, fmt.Errorf("%w: missing %s", ErrMalformed, tokenStart)
	}
	afterStart := startIdx + len(tokenStart)
	endRel := strings.Index(s[afterStart:], tokenEnd)
	if endRel < 0 {
		return 0, 0, fmt.Errorf("%w: missing %s", ErrMalformed, tokenEnd)
	}
	endIdx := afterStart + endRel
	start, err := strconv.ParseInt(strings.TrimSpace(s[afterStart:endIdx]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: start offset: %v", ErrMalformed, err)
	}
	end, err := strconv.ParseInt(strings.TrimSpace(s[endIdx+len(tokenEnd):]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: end offset: %v", ErrMalformed, err)
	}
	return start, end, nil
}

func DownloadFrame(filename string) string {
	return tokenDownload + " " + filename
}

func GetFrame(filename string, start, end int64) string {
	return fmt.Sprintf("%s %s %s %s %d %s %d", tokenFile, filename, tokenGet, tokenStart, start, tokenEnd, end)
}

func CloseFrame(filename string) string {
	return fmt.Sprintf("%s %s %s", tokenFile, filename, tokenClose)
}

// ParseResponse decodes a server reply. It is the client-side inverse of
// the Frame methods.
func ParseResponse(frame string) (Response, error) {
	msg := strings.TrimSpace(frame)
	switch {
	case strings.HasPrefix(msg, tokenOK+" "):
		return parseOk(msg[len(tokenOK)+1:])
	case strings.HasPrefix(msg, tokenErr+" "):
		return parseErr(msg[len(tokenErr)+1:])
	case strings.HasPrefix(msg, tokenFile+" "):
		body := msg[len(tokenFile)+1:]
		if name, ok := strings.CutSuffix(body, " "+tokenCloseOK); ok {
			return CloseOk{Filename: name}, nil
		}
		return parseData(body)
	}
	return nil, fmt.Errorf("%w: unknown response", ErrMalformed)
}

func parseOk(body string) (Response, error) {
	sizeIdx := strings.LastIndex(body, " "+tokenSize+" ")
	portIdx := strings.LastIndex(body, " "+tokenPort+" ")
	if sizeIdx <= 0 || portIdx < sizeIdx {
		return nil, fmt.Errorf("%w: bad %s response", ErrMalformed, tokenOK)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(body[sizeIdx+len(tokenSize)+2:portIdx]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: size: %v", ErrMalformed, err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(body[portIdx+len(tokenPort)+2:]))
	if err != nil {
		return nil, fmt.Errorf("%w: port: %v", ErrMalformed, err)
	}
	return Ok{Filename: body[:sizeIdx], Size: size, Port: port}, nil
}

func parseErr(body string) (Response, error) {
	idx := strings.LastIndex(body, " ")
	if idx <= 0 {
		return nil, fmt.Errorf("%w: bad %s response", ErrMalformed, tokenErr)
	}
	return Err{Filename: body[:idx], Reason: body[idx+1:]}, nil
}

func parseData(body string) (Response, error) {
	okIdx := strings.LastIndex(body, " "+tokenOK+" "+tokenStart+" ")
	dataIdx := strings.LastIndex(body, " "+tokenData+" ")
	if okIdx <= 0 || dataIdx < okIdx {
		return nil, fmt.Errorf("%w: bad data response", ErrMalformed)
	}
	start, end, err := parseRange(body[okIdx:dataIdx])
	if err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body[dataIdx+len(tokenData)+2:]))
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	if int64(len(payload)) != end-start+1 {
		return nil, fmt.Errorf("%w: payload holds %d bytes for range %d-%d", ErrMalformed, len(payload), start, end)
	}
	return DataChunk{Filename: body[:okIdx], Start: start, End: end, Payload: payload}, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
