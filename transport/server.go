package transport

import (
	"context"
	"io"
	"net"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"xiaoshiai.cn/mempool/log"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

// Backend is implemented by pool.Pool and answers every RPC this module's
// server exposes: dereferences, spill forwarders, topology queries, and
// the async ref/unref notifications delivered over the websocket channel.
type Backend interface {
	GetLocal(ctx context.Context, id ref.LocalID, remote bool) (data []byte, fref *ref.FRef, err error)
	RemotePut(ctx context.Context, data []byte, file string, size int64, destroyOnEvict bool) (ref.DRef, error)
	RemoteSetDestroyOnEvict(ctx context.Context, id ref.LocalID, flag bool) error
	RemoteMoveToDisk(ctx context.Context, id ref.LocalID, path string, keepInMemory bool) (ref.FRef, error)
	RemoteSaveToDisk(ctx context.Context, id ref.LocalID, path string) (ref.FRef, error)
	RemoteDeleteFromDisk(ctx context.Context, path string) error
	RemoteDelete(ctx context.Context, id ref.LocalID) error
	GetWrkrIPs(ctx context.Context) (map[string][]ref.WorkerID, error)
	ExternalIP(ctx context.Context) (string, error)
	FetchFile(ctx context.Context, path string) ([]byte, error)
	RefAtOwner(dref ref.DRef, from ref.WorkerID)
	UnrefAtOwner(dref ref.DRef, from ref.WorkerID)
	RecordWhoHasRead(file string, dref ref.DRef)
}

// Server answers peer RPCs over HTTP/2-cleartext and accepts the
// notification websocket. Every request/response body is CBOR.
type Server struct {
	backend  Backend
	upgrader *wsUpgrader
	mux      *http.ServeMux
}

func NewServer(backend Backend) *Server {
	s := &Server{backend: backend, mux: http.NewServeMux(), upgrader: newWSUpgrader()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/getlocal", s.handleGetLocal)
	s.mux.HandleFunc("/put", s.handlePut)
	s.mux.HandleFunc("/destroyonevict", s.handleSetDestroyOnEvict)
	s.mux.HandleFunc("/movetodisk", s.handleMoveToDisk)
	s.mux.HandleFunc("/savetodisk", s.handleSaveToDisk)
	s.mux.HandleFunc("/deletefromdisk", s.handleDeleteFromDisk)
	s.mux.HandleFunc("/delete", s.handleDelete)
	s.mux.HandleFunc("/wrkrips", s.handleWrkrIPs)
	s.mux.HandleFunc("/externalip", s.handleExternalIP)
	s.mux.HandleFunc("/fetchfile", s.handleFetchFile)
	s.mux.HandleFunc("/notify", s.handleNotify)
}

func readRequest(r *http.Request, out any) error {
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return poolerrors.NewTransportError(err)
	}
	return decode(buf, out)
}

func writeResponse(w http.ResponseWriter, v any) {
	data, err := encode(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(data)
}

func (s *Server) handleGetLocal(w http.ResponseWriter, r *http.Request) {
	var req getLocalRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, getLocalResponse{Err: statusOf(err)})
		return
	}
	data, fref, err := s.backend.GetLocal(r.Context(), req.ID, req.Remote)
	resp := getLocalResponse{Data: data, Err: statusOf(err)}
	if fref != nil {
		resp.IsFile = true
		resp.FRef = *fref
	}
	writeResponse(w, resp)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, putResponse{Err: statusOf(err)})
		return
	}
	dref, err := s.backend.RemotePut(r.Context(), req.Data, req.File, req.Size, req.DestroyOnEvict)
	writeResponse(w, putResponse{DRef: rawOf(dref), Err: statusOf(err)})
}

func (s *Server) handleSetDestroyOnEvict(w http.ResponseWriter, r *http.Request) {
	var req setDestroyOnEvictRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, statusOnlyResponse{Err: statusOf(err)})
		return
	}
	err := s.backend.RemoteSetDestroyOnEvict(r.Context(), req.ID, req.Flag)
	writeResponse(w, statusOnlyResponse{Err: statusOf(err)})
}

func (s *Server) handleMoveToDisk(w http.ResponseWriter, r *http.Request) {
	var req diskPathRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, frefResponse{Err: statusOf(err)})
		return
	}
	fref, err := s.backend.RemoteMoveToDisk(r.Context(), req.ID, req.Path, req.KeepInMemory)
	writeResponse(w, frefResponse{FRef: fref, Err: statusOf(err)})
}

func (s *Server) handleSaveToDisk(w http.ResponseWriter, r *http.Request) {
	var req diskPathRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, frefResponse{Err: statusOf(err)})
		return
	}
	fref, err := s.backend.RemoteSaveToDisk(r.Context(), req.ID, req.Path)
	writeResponse(w, frefResponse{FRef: fref, Err: statusOf(err)})
}

func (s *Server) handleDeleteFromDisk(w http.ResponseWriter, r *http.Request) {
	var req deleteFromDiskRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, statusOnlyResponse{Err: statusOf(err)})
		return
	}
	err := s.backend.RemoteDeleteFromDisk(r.Context(), req.Path)
	writeResponse(w, statusOnlyResponse{Err: statusOf(err)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, statusOnlyResponse{Err: statusOf(err)})
		return
	}
	err := s.backend.RemoteDelete(r.Context(), req.ID)
	writeResponse(w, statusOnlyResponse{Err: statusOf(err)})
}

func (s *Server) handleWrkrIPs(w http.ResponseWriter, r *http.Request) {
	topo, err := s.backend.GetWrkrIPs(r.Context())
	writeResponse(w, wrkrIPsResponse{Topology: topo, Err: statusOf(err)})
}

func (s *Server) handleExternalIP(w http.ResponseWriter, r *http.Request) {
	var req externalIPRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, externalIPResponse{Err: statusOf(err)})
		return
	}
	ip, err := s.backend.ExternalIP(r.Context())
	writeResponse(w, externalIPResponse{IP: ip, Err: statusOf(err)})
}

func (s *Server) handleFetchFile(w http.ResponseWriter, r *http.Request) {
	var req fetchFileRequest
	if err := readRequest(r, &req); err != nil {
		writeResponse(w, fetchFileResponse{Err: statusOf(err)})
		return
	}
	data, err := s.backend.FetchFile(r.Context(), req.Path)
	writeResponse(w, fetchFileResponse{Data: data, Err: statusOf(err)})
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.upgrade(w, r)
	if err != nil {
		log.Error(err, "websocket upgrade failed")
		return
	}
	go s.readNotifications(conn)
}

func (s *Server) readNotifications(conn wsConn) {
	defer conn.Close()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame refNotifyFrame
		if err := decode(data, &frame); err != nil {
			log.Error(err, "malformed ref notification frame")
			continue
		}
		dref := frame.DRef.dref()
		switch frame.Kind {
		case "ref":
			s.backend.RefAtOwner(dref, frame.From)
		case "unref":
			s.backend.UnrefAtOwner(dref, frame.From)
		case "whohasread":
			s.backend.RecordWhoHasRead(frame.File, dref)
		}
	}
}

// ServeContext serves the backend over HTTP/2-cleartext until ctx is
// cancelled, mirroring the teacher's graceful-shutdown listen pattern:
// BaseContext ties every request to ctx, and a goroutine closes the
// listener when ctx is done rather than waiting for in-flight requests.
func ServeContext(ctx context.Context, listen string, backend Backend) error {
	server := NewServer(backend)
	httpServer := &http.Server{
		Addr:        listen,
		Handler:     h2c.NewHandler(server, &http2.Server{}),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		log.Info("closing mempool peer server", "listen", listen)
		_ = httpServer.Close()
	}()
	log.Info("starting mempool peer server", "listen", listen)
	return httpServer.ListenAndServe()
}
