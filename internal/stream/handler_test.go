package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"utsushie/internal/catalog"
)

// startServer はループバックの空きポートでServerを起動する
func startServer(t *testing.T, cat Catalog, cfg HandlerConfig) (string, *Server) {
	t.Helper()

	srv := NewServer("127.0.0.1:0", NewHandler(cat, cfg))
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Listen(ctx); err != nil {
		cancel()
		t.Fatalf("リッスンに失敗しました: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.Errorf("シャットダウンに失敗しました: %v", err)
		}
		if err := <-errCh; err != nil {
			t.Errorf("Serve がエラーを返しました: %v", err)
		}
	})

	return srv.Addr().String(), srv
}

// roundTrip は生のリクエストを送り、サーバーが閉じるまでの応答を返す
func roundTrip(t *testing.T, addr, raw string) []byte {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("接続に失敗しました: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("リクエストの送信に失敗しました: %v", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("応答の読み込みに失敗しました: %v", err)
	}
	return resp
}

// newCatalogWithFiles はn枚の画像ファイルを作成し、それを登録したカタログを返す
func newCatalogWithFiles(t *testing.T, n int) (*catalog.Catalog, [][]byte) {
	t.Helper()

	dir := t.TempDir()
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	cat := catalog.New()
	contents := make([][]byte, n)
	for i := 0; i < n; i++ {
		contents[i] = []byte(fmt.Sprintf("\xff\xd8jpeg-%d\xff\xd9", i))
		path := filepath.Join(dir, fmt.Sprintf("%d.jpg", i))
		if err := os.WriteFile(path, contents[i], 0o644); err != nil {
			t.Fatal(err)
		}
		cat.Append(catalog.Record{Path: path, CapturedAt: base.Add(time.Duration(i) * time.Second)})
	}
	return cat, contents
}

func expectedStream(frame []byte, parts int) []byte {
	var buf bytes.Buffer
	buf.Write(streamHeader)
	for i := 0; i < parts; i++ {
		buf.Write(partHeader)
		buf.Write(frame)
	}
	buf.Write(closingBoundary)
	return buf.Bytes()
}

// TestWireFormat はクライアントが解釈するバイト列そのものを固定する
func TestWireFormat(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{"レスポンスヘッダー", streamHeader, "HTTP/1.1 200 OK\r\nContent-Type: multipart/x-mixed-replace; boundary=--This_is_a_boundary_for_each_jpeg_image\r\n"},
		{"パートヘッダー", partHeader, "\r\n--This_is_a_boundary_for_each_jpeg_image\r\nContent-Type: image/jpeg\r\n\r\n"},
		{"終端境界", closingBoundary, "\r\n--This_is_a_boundary_for_each_jpeg_image--"},
		{"400応答", badRequestResponse, "HTTP/1.1 400 Bad Request\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.got) != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// TestStreamEmptyCatalog は空のカタログでヘッダーと終端境界だけが返ることをテストする
func TestStreamEmptyCatalog(t *testing.T) {
	addr, _ := startServer(t, catalog.New(), HandlerConfig{})

	resp := roundTrip(t, addr, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")

	want := expectedStream(nil, 0)
	if !bytes.Equal(resp, want) {
		t.Errorf("応答が一致しません:\n got %q\nwant %q", resp, want)
	}
}

// TestStreamBoundedParts は変化しないカタログに対してちょうど11パートが返ることをテストする
func TestStreamBoundedParts(t *testing.T) {
	cat, contents := newCatalogWithFiles(t, 5)
	addr, _ := startServer(t, cat, HandlerConfig{})

	testCases := []struct {
		name  string
		path  string
		frame int
	}{
		{"指定なしは最新", "/", 4},
		{"番号指定", "/3", 3},
		{"末尾から数える", "/-5", 0},
		{"範囲外は最新", "/10", 4},
		{"数値以外は最新", "/latest", 4},
		{"ネストしたパス", "/camera/1", 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := roundTrip(t, addr, "GET "+tc.path+" HTTP/1.1\r\n\r\n")

			want := expectedStream(contents[tc.frame], DefaultMaxParts)
			if !bytes.Equal(resp, want) {
				t.Errorf("応答が一致しません (len got=%d want=%d)", len(resp), len(want))
			}
			if got := bytes.Count(resp, []byte("Content-Type: image/jpeg")); got != DefaultMaxParts {
				t.Errorf("パート数: got %d, want %d", got, DefaultMaxParts)
			}
		})
	}
}

func TestStreamMaxPartsConfigurable(t *testing.T) {
	cat, contents := newCatalogWithFiles(t, 2)
	addr, _ := startServer(t, cat, HandlerConfig{MaxParts: 3})

	resp := roundTrip(t, addr, "GET /0 HTTP/1.0\r\n\r\n")
	if want := expectedStream(contents[0], 3); !bytes.Equal(resp, want) {
		t.Errorf("応答が一致しません:\n got %q\nwant %q", resp, want)
	}
}

func TestStreamMissingFileEndsEarly(t *testing.T) {
	cat := catalog.New()
	cat.Append(catalog.Record{Path: filepath.Join(t.TempDir(), "gone.jpg"), CapturedAt: time.Now()})
	addr, _ := startServer(t, cat, HandlerConfig{})

	resp := roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n")
	if want := expectedStream(nil, 0); !bytes.Equal(resp, want) {
		t.Errorf("応答が一致しません:\n got %q\nwant %q", resp, want)
	}
}

func TestNonStreamingResponses(t *testing.T) {
	addr, _ := startServer(t, catalog.New(), HandlerConfig{})

	testCases := []struct {
		name    string
		request string
		want    []byte
	}{
		{"POSTは固定HTML", "POST /upload HTTP/1.1\r\nContent-Length: 0\r\n\r\n", postResponse},
		{"PUTは400", "PUT / HTTP/1.1\r\n\r\n", badRequestResponse},
		{"小文字のgetは400", "get / HTTP/1.1\r\n\r\n", badRequestResponse},
		{"フィールド不足は400", "GET /\r\n\r\n", badRequestResponse},
		{"フィールド過多は400", "GET / HTTP/1.1 extra\r\n\r\n", badRequestResponse},
		{"UTF-8以外は400", "GET /\xff HTTP/1.1\r\n\r\n", badRequestResponse},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := roundTrip(t, addr, tc.request)
			if !bytes.Equal(resp, tc.want) {
				t.Errorf("応答が一致しません:\n got %q\nwant %q", resp, tc.want)
			}
		})
	}
}

func TestEmptyConnectionIsClosedSilently(t *testing.T) {
	addr, _ := startServer(t, catalog.New(), HandlerConfig{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("応答の読み込みに失敗しました: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("空の接続に応答が返りました: %q", resp)
	}
}

// TestReadTimeoutClosesIdleConnection は何も送らないクライアントがタイムアウトで切断されることをテストする
func TestReadTimeoutClosesIdleConnection(t *testing.T) {
	addr, srv := startServer(t, catalog.New(), HandlerConfig{ReadTimeout: 50 * time.Millisecond})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("サーバー側で切断されませんでした: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("アイドル接続に応答が返りました: %q", resp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveConnections() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := srv.ActiveConnections(); n != 0 {
		t.Errorf("処理中の接続が残っています: %d", n)
	}
}

// growingCatalog はLenのappendOn回目の呼び出しでrecordを追加する
type growingCatalog struct {
	*catalog.Catalog
	calls    atomic.Int32
	appendOn int32
	record   catalog.Record
}

func (g *growingCatalog) Len() int {
	if g.calls.Add(1) == g.appendOn {
		g.Catalog.Append(g.record)
	}
	return g.Catalog.Len()
}

// TestStreamResolvesIndexPerPart は配信中に増えた画像が後続のパートに反映されることをテストする
func TestStreamResolvesIndexPerPart(t *testing.T) {
	base, contents := newCatalogWithFiles(t, 2)

	newFrame := []byte("\xff\xd8jpeg-new\xff\xd9")
	newPath := filepath.Join(t.TempDir(), "new.jpg")
	if err := os.WriteFile(newPath, newFrame, 0o644); err != nil {
		t.Fatal(err)
	}
	cat := &growingCatalog{
		Catalog:  base,
		appendOn: 3,
		record:   catalog.Record{Path: newPath, CapturedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	addr, _ := startServer(t, cat, HandlerConfig{})

	resp := roundTrip(t, addr, "GET /-1 HTTP/1.1\r\n\r\n")

	var want bytes.Buffer
	want.Write(streamHeader)
	for i := 0; i < DefaultMaxParts; i++ {
		want.Write(partHeader)
		if i < 2 {
			want.Write(contents[1])
		} else {
			want.Write(newFrame)
		}
	}
	want.Write(closingBoundary)

	if !bytes.Equal(resp, want.Bytes()) {
		t.Errorf("応答が一致しません:\n got %q\nwant %q", resp, want.Bytes())
	}
}

type panickyCatalog struct {
	panic atomic.Bool
}

func (p *panickyCatalog) Len() int {
	if p.panic.Load() {
		return 1
	}
	return 0
}

func (p *panickyCatalog) Get(int) catalog.Record {
	panic("壊れたカタログ")
}

// TestPanicIsContainedPerConnection は1接続のパニックが他の接続に影響しないことをテストする
func TestPanicIsContainedPerConnection(t *testing.T) {
	cat := &panickyCatalog{}
	cat.panic.Store(true)
	addr, _ := startServer(t, cat, HandlerConfig{})

	resp := roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n")
	if !bytes.Equal(resp, streamHeader) {
		t.Errorf("パニック時の応答が一致しません: %q", resp)
	}

	cat.panic.Store(false)
	resp = roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n")
	if want := expectedStream(nil, 0); !bytes.Equal(resp, want) {
		t.Errorf("パニック後の接続が処理されていません: %q", resp)
	}
}

func TestConcurrentClients(t *testing.T) {
	cat, contents := newCatalogWithFiles(t, 3)
	addr, srv := startServer(t, cat, HandlerConfig{})

	const clients = 20
	var wg sync.WaitGroup
	errCh := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			index := i % 3
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errCh <- err
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			if _, err := fmt.Fprintf(conn, "GET /%d HTTP/1.1\r\n\r\n", index); err != nil {
				errCh <- err
				return
			}
			resp, err := io.ReadAll(conn)
			if err != nil {
				errCh <- err
				return
			}
			if !bytes.Equal(resp, expectedStream(contents[index], DefaultMaxParts)) {
				errCh <- fmt.Errorf("クライアント %d の応答が一致しません", i)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
	if got := srv.AcceptedConnections(); got != clients {
		t.Errorf("受け付けた接続数: got %d, want %d", got, clients)
	}
}

func TestParseRequestLine(t *testing.T) {
	req, err := parseRequestLine([]byte("GET /cam/2 HTTP/1.1\r\nHost: example\r\n\r\n"))
	if err != nil {
		t.Fatalf("解釈に失敗しました: %v", err)
	}
	if req.method != "GET" || req.path != "/cam/2" || req.version != "HTTP/1.1" {
		t.Errorf("解釈結果が一致しません: %+v", req)
	}

	if _, err := parseRequestLine([]byte("\r\nGET / HTTP/1.1\r\n")); err == nil {
		t.Error("先頭行が空のリクエストが受け入れられました")
	}
}
