package assets

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ftpStub serves files over the passive-mode subset of FTP that the
// fetcher uses.
type ftpStub struct {
	ln    net.Listener
	files map[string][]byte
	wg    sync.WaitGroup
}

func newFTPStub(t *testing.T, files map[string][]byte) *ftpStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &ftpStub{ln: ln, files: files}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *ftpStub) url(path string) string {
	return "ftp://" + s.ln.Addr().String() + path
}

func (s *ftpStub) close() {
	s.ln.Close() //nolint:errcheck
	s.wg.Wait()
}

func (s *ftpStub) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.session(conn)
	}
}

func (s *ftpStub) session(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck
	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\r\n", args...) //nolint:errcheck
		w.Flush()                              //nolint:errcheck
	}

	reply("220 ready")
	var data net.Listener
	defer func() {
		if data != nil {
			data.Close() //nolint:errcheck
		}
	}()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch strings.ToUpper(cmd) {
		case "USER", "PASS":
			reply("230 logged in")
		case "FEAT":
			fmt.Fprint(w, "211-Features:\r\n UTF8\r\n") //nolint:errcheck
			reply("211 End")
		case "TYPE":
			reply("200 type %s", arg)
		case "OPTS":
			reply("200 OK")
		case "EPSV", "PASV":
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 no data connection")
				continue
			}
			port := data.Addr().(*net.TCPAddr).Port
			if strings.EqualFold(cmd, "EPSV") {
				reply("229 Entering Extended Passive Mode (|||%d|)", port)
			} else {
				reply("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
			}
		case "RETR":
			body, ok := s.files[arg]
			if data == nil || !ok {
				reply("550 not found")
				continue
			}
			reply("150 opening data connection")
			dc, err := data.Accept()
			if err != nil {
				reply("425 no data connection")
				continue
			}
			_, _ = io.Copy(dc, strings.NewReader(string(body)))
			dc.Close()   //nolint:errcheck
			data.Close() //nolint:errcheck
			data = nil
			reply("226 transfer complete")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}
