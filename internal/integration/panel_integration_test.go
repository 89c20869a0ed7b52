package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/service/client"
	"github.com/oshokin/tuya-alarm/internal/service/server"
	"github.com/oshokin/tuya-alarm/internal/service/setup"
)

const deviceID = "bf00112233445566"

// cloud is a minimal stand-in for the device API that applies commands at once.
type cloud struct {
	mu       sync.Mutex
	arm      string
	delay    float64
	commands []string
}

func (c *cloud) reply(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"success":true,"result":%s,"t":%d,"tid":"x"}`, result, time.Now().UnixMilli())
}

func (c *cloud) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	defer c.mu.Unlock()

	base := "/v1.0/iot-03/devices/" + deviceID

	switch {
	case strings.HasPrefix(r.URL.Path, "/v1.0/token"):
		c.reply(w, `{"access_token":"token","refresh_token":"refresh","expire_time":7200,"uid":"u1"}`)
	case r.URL.Path == base+"/status":
		c.reply(w, fmt.Sprintf(`[{"code":"system_arm_type","value":%q},{"code":"arm_delay","value":%v}]`, c.arm, c.delay))
	case r.URL.Path == base+"/functions":
		c.reply(w, `{"category":"qt","functions":[
			{"code":"system_arm_type","type":"Enum","values":"{\"range\":[\"disarmed\",\"armed\",\"home\"]}"},
			{"code":"arm_delay","type":"Integer","values":"{\"min\":0,\"max\":300,\"step\":1,\"unit\":\"s\"}"}]}`)
	case r.URL.Path == "/v1.0/devices/"+deviceID:
		c.reply(w, `{"id":"`+deviceID+`","name":"Hall","product_name":"Alarm Host","category":"qt","online":true}`)
	case r.URL.Path == base+"/commands":
		c.apply(body)
		c.reply(w, `true`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (c *cloud) apply(body []byte) {
	var payload struct {
		Commands []struct {
			Code  string `json:"code"`
			Value any    `json:"value"`
		} `json:"commands"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return
	}

	for _, command := range payload.Commands {
		c.commands = append(c.commands, command.Code)

		switch value := command.Value.(type) {
		case string:
			if command.Code == "system_arm_type" {
				c.arm = value
			}
		case float64:
			if command.Code == "arm_delay" {
				c.delay = value
			}
		}
	}
}

func (c *cloud) snapshot() (string, float64, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.arm, c.delay, append([]string(nil), c.commands...)
}

// freeAddress reserves a loopback port for the daemon.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// TestPanel_EndToEnd writes settings, runs the daemon against the fake cloud
// and drives it with the control client.
func TestPanel_EndToEnd(t *testing.T) {
	t.Parallel()

	fake := &cloud{arm: "disarmed"}
	cloudServer := httptest.NewServer(fake)
	t.Cleanup(cloudServer.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "settings.yaml")

	require.NoError(t, setup.Run(context.Background(), &setup.Options{
		ConfigPath:    cfgPath,
		Region:        cloudServer.URL,
		AccessID:      "client-id",
		AccessSecret:  "secret",
		DeviceID:      deviceID,
		ListenAddress: freeAddress(t),
		Timeout:       5 * time.Second,
	}))

	settings, err := config.Load(cfgPath)
	require.NoError(t, err)

	settings.HistoryFile = filepath.Join(dir, "history.db")
	settings.PIDFile = filepath.Join(dir, "daemon.pid")
	settings.Verify = config.Verify{Interval: 20 * time.Millisecond, MaxAttempts: 20, Timeout: 3 * time.Second}
	require.NoError(t, config.Save(cfgPath, settings))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- server.Run(ctx, &server.Options{ConfigPath: cfgPath}) }()

	out := new(bytes.Buffer)

	runner, err := client.Open(ctx, &client.Options{ConfigPath: cfgPath, Timeout: 2 * time.Second, Output: out})
	require.NoError(t, err)

	defer func() { require.NoError(t, runner.Close()) }()

	require.Eventually(t, func() bool {
		out.Reset()

		if runner.Status(ctx) != nil {
			return false
		}

		var snapshot map[string]any

		return json.Unmarshal(out.Bytes(), &snapshot) == nil && snapshot["available"] == true
	}, 10*time.Second, 50*time.Millisecond)

	out.Reset()
	require.NoError(t, runner.Arm(ctx, "home"))

	out.Reset()
	require.NoError(t, runner.SetOption(ctx, "arm_delay", "30"))

	arm, delay, commands := fake.snapshot()
	require.Equal(t, "home", arm)
	require.InDelta(t, 30.0, delay, 0)
	require.Equal(t, []string{"system_arm_type", "arm_delay"}, commands)

	out.Reset()
	require.NoError(t, runner.History(ctx, 5))

	var history struct {
		Records []map[string]any `json:"records"`
	}

	require.NoError(t, json.Unmarshal(out.Bytes(), &history))
	require.Len(t, history.Records, 2)
	require.Equal(t, "option", history.Records[0]["kind"])
	require.Equal(t, "confirmed", history.Records[1]["outcome"])

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}

	require.NoFileExists(t, settings.PIDFile)
}
