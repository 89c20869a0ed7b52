package tuya

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testClientID = "test-client"
	testSecret   = "test-secret"
	testDevice   = "bf0123456789abcdef"
)

// fakeCloud verifies signatures like the real cloud and serves canned device replies.
type fakeCloud struct {
	t      *testing.T
	accept Scheme
	secret string
	expire int64
	delay  time.Duration

	mu          sync.Mutex
	logins      int
	refreshes   int
	tokens      int
	valid       map[string]bool
	statusCalls int
	failStatus  int
	signRejects int
	rejectNext  bool
	statusBody  string
	commandBody string
	commandCode int
	commands    []string
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()

	return &fakeCloud{
		t:          t,
		accept:     SchemeCurrent,
		secret:     testSecret,
		expire:     7200,
		valid:      make(map[string]bool),
		statusBody: `[{"code":"system_arm_type","value":"disarmed"}]`,
	}
}

func (f *fakeCloud) start() *httptest.Server {
	server := httptest.NewServer(f)
	f.t.Cleanup(server.Close)

	return server
}

func (f *fakeCloud) write(w http.ResponseWriter, success bool, code int, result string) {
	w.Header().Set("Content-Type", "application/json")

	if success {
		fmt.Fprintf(w, `{"success":true,"result":%s,"t":%d,"tid":"x"}`, result, time.Now().UnixMilli())

		return
	}

	fmt.Fprintf(w, `{"success":false,"code":%d,"msg":"error %d","t":%d}`, code, code, time.Now().UnixMilli())
}

func (f *fakeCloud) checkSignature(r *http.Request, body []byte) bool {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}

	req := &Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		Body:        body,
		ClientID:    r.Header.Get(HeaderClientID),
		AccessToken: r.Header.Get(HeaderAccessToken),
		Timestamp:   ts,
		Nonce:       r.Header.Get(HeaderNonce),
	}

	expected, err := Sign(req, f.accept, []byte(f.secret))
	if err != nil {
		return false
	}

	return expected == r.Header.Get(HeaderSign)
}

func (f *fakeCloud) issue() string {
	f.tokens++
	token := "token-" + strconv.Itoa(f.tokens)
	f.valid[token] = true

	return fmt.Sprintf(`{"access_token":%q,"refresh_token":"refresh-%d","expire_time":%d,"uid":"u1"}`, token, f.tokens, f.expire)
}

//nolint:cyclop,funlen // A small router over the endpoints under test.
func (f *fakeCloud) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	if !f.checkSignature(r, body) {
		f.write(w, false, codeSignInvalid, "")

		return
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == tokenPath:
		f.logins++
		f.write(w, true, 0, f.issue())

		return
	case strings.HasPrefix(r.URL.Path, tokenPath+"/"):
		f.refreshes++
		f.write(w, true, 0, f.issue())

		return
	}

	token := r.Header.Get(HeaderAccessToken)
	if !f.valid[token] {
		f.write(w, false, codeTokenInvalid, "")

		return
	}

	if f.rejectNext {
		f.rejectNext = false
		delete(f.valid, token)
		f.write(w, false, codeTokenExpired, "")

		return
	}

	switch r.URL.Path {
	case "/v1.0/iot-03/devices/" + testDevice + "/status":
		f.statusCalls++
		if f.signRejects > 0 {
			f.signRejects--
			f.write(w, false, codeSignInvalid, "")

			return
		}

		if f.failStatus > 0 {
			f.failStatus--
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		f.write(w, true, 0, f.statusBody)
	case "/v1.0/iot-03/devices/" + testDevice + "/functions":
		f.write(w, true, 0, `{"category":"qt","functions":[
			{"code":"system_arm_type","type":"Enum","values":"{\"range\":[\"disarmed\",\"armed\",\"home\"]}"},
			{"code":"arm_delay","type":"Integer","values":"{\"min\":0,\"max\":300,\"step\":1,\"unit\":\"s\"}"},
			{"code":"gsm_en","type":"Boolean","values":"{}"},
			{"code":"","type":"Boolean","values":"{}"}]}`)
	case "/v1.0/devices/" + testDevice:
		f.write(w, true, 0, `{"id":"`+testDevice+`","name":"S6","model":"S6","product_name":"Alarm Host","category":"qt","online":true}`)
	case "/v1.0/iot-03/devices/" + testDevice + "/commands":
		f.commands = append(f.commands, string(body))
		if f.commandCode != 0 {
			f.write(w, false, f.commandCode, "")

			return
		}

		f.write(w, true, 0, `true`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCloud) counts() (logins, refreshes, statusCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.logins, f.refreshes, f.statusCalls
}

// decodeCommands returns the command payloads the cloud received.
func (f *fakeCloud) decodeCommands() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]map[string]any, 0, len(f.commands))

	for _, raw := range f.commands {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			f.t.Errorf("decode command body: %v", err)
		}

		result = append(result, decoded)
	}

	return result
}

// newTestClient builds a client pointed at the fake cloud with an explicit region.
func newTestClient(t *testing.T, server *httptest.Server, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{
		WithHTTPClient(server.Client()),
		WithTimeout(5 * time.Second),
		WithRetry(RetryPolicy{Attempts: 1}),
	}, opts...)

	session, err := NewSession(Credentials{
		AccessID:     testClientID,
		AccessSecret: testSecret,
		Region:       server.URL,
	}, opts...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	t.Cleanup(session.Close)

	return NewClient(session)
}
