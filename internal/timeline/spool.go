package timeline

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrSpoolFull = errors.New("timeline spool full")

const (
	spoolFile     = "timeline_spool.bin"
	maxFrameBytes = 16 << 20
)

// Spool is a local append-only file of msgpack records, each prefixed with
// its big-endian uint32 length. It holds records the database refused.
type Spool struct {
	dir      string
	maxBytes int64

	mu sync.Mutex
}

func NewSpool(dir string, maxMB int64) (*Spool, error) {
	if maxMB <= 0 {
		maxMB = 256
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	s := &Spool{dir: dir, maxBytes: maxMB << 20}
	if err := s.adoptReplays(); err != nil {
		return nil, err
	}
	return s, nil
}

// adoptReplays folds replay files left by an interrupted drain back into the
// spool.
func (s *Spool) adoptReplays() error {
	stale, err := filepath.Glob(filepath.Join(s.dir, "replay_*.bin"))
	if err != nil {
		return err
	}
	for _, path := range stale {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read stale replay %s: %w", path, err)
		}
		if err := s.writeLocked(raw); err != nil {
			return fmt.Errorf("adopt stale replay %s: %w", path, err)
		}
		os.Remove(path)
		log.Info().Str("file", path).Int("bytes", len(raw)).Msg("adopted stale timeline replay file")
	}
	return nil
}

func (s *Spool) path() string {
	return filepath.Join(s.dir, spoolFile)
}

func (s *Spool) Append(rec data.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

func (s *Spool) appendLocked(rec data.EventRecord) error {
	body, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode spool record: %w", err)
	}
	if info, err := os.Stat(s.path()); err == nil && info.Size()+int64(len(body))+4 > s.maxBytes {
		return ErrSpoolFull
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return s.writeLocked(frame)
}

// writeLocked appends raw frames without the size cap. Requeued and restored
// records were already admitted once.
func (s *Spool) writeLocked(frames []byte) error {
	f, err := os.OpenFile(s.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(frames); err != nil {
		return err
	}
	return f.Sync()
}

// Len reports the spool size in bytes.
func (s *Spool) Len() int64 {
	info, err := os.Stat(s.path())
	if err != nil {
		return 0
	}
	return info.Size()
}

var (
	errUndecodable = errors.New("undecodable spool record")
	errFrameLength = errors.New("spool frame length out of range")
)

// Drain hands every spooled record to fn. Records fn rejects are written
// back to the spool. Undecodable frames are skipped and a truncated trailing
// frame is discarded. If draining stops early, the unread remainder goes back
// to the spool.
func (s *Spool) Drain(fn func(data.EventRecord) error) (flushed, requeued int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path())
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	replay := filepath.Join(s.dir, fmt.Sprintf("replay_%d.bin", time.Now().UnixNano()))
	if err := os.Rename(s.path(), replay); err != nil {
		return 0, 0, fmt.Errorf("rotate spool for replay: %w", err)
	}

	f, err := os.Open(replay)
	if err != nil {
		return 0, 0, s.restoreTail(replay, 0, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		frameStart := offset
		rec, raw, rerr := readFrame(r)
		offset += int64(len(raw))
		if rerr == io.EOF {
			break
		}
		if errors.Is(rerr, errUndecodable) {
			log.Warn().Err(rerr).Int64("offset", frameStart).Msg("skipping corrupt timeline spool frame")
			continue
		}
		if errors.Is(rerr, errFrameLength) {
			// Frame boundaries are lost; park the rest so later appends still drain.
			return flushed, requeued, s.quarantineTail(replay, frameStart, rerr)
		}
		if rerr != nil {
			return flushed, requeued, s.restoreTail(replay, frameStart, rerr)
		}
		if ferr := fn(rec); ferr != nil {
			if werr := s.writeLocked(raw); werr != nil {
				return flushed, requeued, s.restoreTail(replay, frameStart, fmt.Errorf("requeue %s: %w", rec.ID, werr))
			}
			requeued++
			continue
		}
		flushed++
	}
	os.Remove(replay)
	return flushed, requeued, nil
}

// quarantineTail keeps replay[from:] as corrupt_<ts>.bin beside the spool.
func (s *Spool) quarantineTail(replay string, from int64, cause error) error {
	dst := filepath.Join(s.dir, fmt.Sprintf("corrupt_%d.bin", time.Now().UnixNano()))
	if from == 0 {
		if err := os.Rename(replay, dst); err != nil {
			return fmt.Errorf("%w (replay file %s kept: %v)", cause, replay, err)
		}
		log.Error().Err(cause).Str("file", dst).Msg("timeline spool tail quarantined")
		return cause
	}
	src, err := os.Open(replay)
	if err != nil {
		return fmt.Errorf("%w (replay file %s kept: %v)", cause, replay, err)
	}
	defer src.Close()
	if _, err := src.Seek(from, io.SeekStart); err != nil {
		return fmt.Errorf("%w (replay file %s kept: %v)", cause, replay, err)
	}
	tail, err := io.ReadAll(src)
	if err == nil {
		err = os.WriteFile(dst, tail, 0600)
	}
	if err != nil {
		return fmt.Errorf("%w (replay file %s kept: %v)", cause, replay, err)
	}
	os.Remove(replay)
	log.Error().Err(cause).Str("file", dst).Msg("timeline spool tail quarantined")
	return cause
}

// restoreTail appends replay[from:] to the spool and removes replay. When the
// copy fails the replay file is left on disk for the next start.
func (s *Spool) restoreTail(replay string, from int64, cause error) error {
	src, err := os.Open(replay)
	if err != nil {
		return fmt.Errorf("%w (replay file %s kept: %v)", cause, replay, err)
	}
	defer src.Close()
	if _, err := src.Seek(from, io.SeekStart); err != nil {
		return fmt.Errorf("%w (replay file %s kept: %v)", cause, replay, err)
	}
	tail, err := io.ReadAll(src)
	if err == nil && len(tail) > 0 {
		err = s.writeLocked(tail)
	}
	if err != nil {
		return fmt.Errorf("%w (replay file %s kept: %v)", cause, replay, err)
	}
	os.Remove(replay)
	return cause
}

// readFrame returns the decoded record and the raw frame bytes consumed.
func readFrame(r io.Reader) (data.EventRecord, []byte, error) {
	var rec data.EventRecord
	hdr := make([]byte, 4)
	if n, err := io.ReadFull(r, hdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return rec, hdr[:n], io.EOF
		}
		return rec, hdr[:n], err
	}
	n := binary.BigEndian.Uint32(hdr)
	if n > maxFrameBytes {
		return rec, nil, fmt.Errorf("%w: %d bytes", errFrameLength, n)
	}
	raw := make([]byte, 4+int(n))
	copy(raw, hdr)
	if m, err := io.ReadFull(r, raw[4:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return rec, raw[:4+m], io.EOF
		}
		return rec, raw[:4+m], err
	}
	if err := msgpack.Unmarshal(raw[4:], &rec); err != nil {
		return rec, raw, fmt.Errorf("%w: %v", errUndecodable, err)
	}
	return rec, raw, nil
}
