package mirrorset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/desertwitch/lmirror/internal/combiner"
	"github.com/desertwitch/lmirror/internal/journal"
	"github.com/desertwitch/lmirror/internal/lmirrorerr"
	"github.com/desertwitch/lmirror/internal/replay"
	"github.com/desertwitch/lmirror/internal/scanner"
	"github.com/desertwitch/lmirror/internal/signing"
	"github.com/desertwitch/lmirror/internal/transport"
)

const journalCacheSize = 32

// MirrorSet binds the journal/combiner/scanner/replay primitives to an
// on-disk set: Base carries .lmirror/sets/<name> and .lmirror/metadata/<name>,
// Content is rooted at set.conf's content_root and is what the scanner walks
// and the replayer writes into (spec §4.5, §4.6).
type MirrorSet struct {
	Name       string
	Base       transport.Transport
	Content    transport.Transport
	Signer     signing.Signer
	Verifier   signing.Verifier
	HTTPClient *http.Client

	// VerifyWrites has Receive re-read and re-hash every materialized file
	// with an independent digest after it lands on disk, on top of the
	// streaming sha1 check against the journal, catching corruption
	// introduced by the write itself.
	VerifyWrites bool

	contentRoot  string
	journalCache *lru.Cache
}

// Initialise creates a brand-new mirror set at name, rooted at contentRoot
// within base, with an empty journal 0 as its basis snapshot.
func Initialise(ctx context.Context, base transport.Transport, name, contentRoot string) (*MirrorSet, error) {
	if _, err := base.Stat(ctx, setFormatPath(name)); err == nil {
		return nil, fmt.Errorf("%w: set %q", lmirrorerr.ErrAlreadyExists, name)
	}

	if err := base.CreatePrefix(ctx, setDir(name)); err != nil {
		return nil, fmt.Errorf("create set directory: %w", err)
	}

	if err := base.CreatePrefix(ctx, journalsDir(name)); err != nil {
		return nil, fmt.Errorf("create journals directory: %w", err)
	}

	if err := writeFile(ctx, base, setFormatPath(name), []byte(formatMarkerLocal)); err != nil {
		return nil, err
	}

	if err := writeFile(ctx, base, metaFormatPath(name), []byte(formatMarkerLocal)); err != nil {
		return nil, err
	}

	setConfBytes, err := SetConf{ContentRoot: contentRoot}.serialize()
	if err != nil {
		return nil, err
	}

	if err := writeFile(ctx, base, setConfPath(name), setConfBytes); err != nil {
		return nil, err
	}

	meta := MetadataConf{Basis: 0, Latest: 0, Updating: true}

	metaBytes, err := meta.serialize()
	if err != nil {
		return nil, err
	}

	if err := writeFile(ctx, base, metadataConfPath(name), metaBytes); err != nil {
		return nil, err
	}

	emptyJournal, err := journal.New().Serialize(journal.V2)
	if err != nil {
		return nil, err
	}

	if err := writeFile(ctx, base, journalPath(name, 0), emptyJournal); err != nil {
		return nil, err
	}

	meta.Updating = false

	metaBytes, err = meta.serialize()
	if err != nil {
		return nil, err
	}

	if err := writeFile(ctx, base, metadataConfPath(name), metaBytes); err != nil {
		return nil, err
	}

	return open(base, rootedAt(base, contentRoot), name, contentRoot)
}

// Open attaches to an already-initialised mirror set.
func Open(ctx context.Context, base transport.Transport, name string) (*MirrorSet, error) {
	marker, err := readString(ctx, base, setFormatPath(name))
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: set %q", lmirrorerr.ErrNotFound, name)
		}

		return nil, err
	}

	if !isKnownFormatMarker(marker) {
		return nil, fmt.Errorf("%w: unrecognized format marker %q", lmirrorerr.ErrBadFormat, marker)
	}

	setConfBytes, err := readAll(ctx, base, setConfPath(name))
	if err != nil {
		return nil, err
	}

	setConf, err := parseSetConf(setConfBytes)
	if err != nil {
		return nil, err
	}

	return open(base, rootedAt(base, setConf.ContentRoot), name, setConf.ContentRoot)
}

// OpenRemote attaches to a mirror set served by an lmirror smart server.
// Unlike Open, both the set/metadata namespace and the content tree are
// addressed through the same client: the server resolves content_root
// itself, so a receiver never needs to know it (spec §6 "HTTP smart
// server").
func OpenRemote(client *http.Client, serverBaseURL, name string) (*MirrorSet, error) {
	sc := transport.NewSmartClient(client, serverBaseURL, name)

	return open(sc, sc, name, "")
}

func open(base, content transport.Transport, name, contentRoot string) (*MirrorSet, error) {
	cache, err := lru.New(journalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build journal cache: %w", err)
	}

	return &MirrorSet{
		Name:         name,
		Base:         base,
		Content:      content,
		contentRoot:  contentRoot,
		journalCache: cache,
	}, nil
}

func (m *MirrorSet) readMetadata(ctx context.Context) (MetadataConf, error) {
	data, err := readAll(ctx, m.Base, metadataConfPath(m.Name))
	if err != nil {
		return MetadataConf{}, err
	}

	return parseMetadataConf(data)
}

// ReadContentConf reads this set's content.conf, or a zero-value
// ContentConf (no extra rules, no filters) if none was ever written.
func (m *MirrorSet) ReadContentConf(ctx context.Context) (ContentConf, error) {
	data, err := readAll(ctx, m.Base, contentConfPath(m.Name))
	if err != nil {
		if notFound(err) {
			return ContentConf{}, nil
		}

		return ContentConf{}, err
	}

	return parseContentConf(data)
}

// GetServer returns this set's configured smart-server base URL, as stored
// in metadata.conf, or "" if none has been set (spec §4.5, §6: finish_change
// consults this to fetch a change hint list and ping the server afterwards).
func (m *MirrorSet) GetServer(ctx context.Context) (string, error) {
	meta, err := m.readMetadata(ctx)
	if err != nil {
		return "", err
	}

	return meta.Server, nil
}

// SetServer persists server as this set's smart-server base URL in
// metadata.conf.
func (m *MirrorSet) SetServer(ctx context.Context, server string) error {
	meta, err := m.readMetadata(ctx)
	if err != nil {
		return err
	}

	meta.Server = server

	return m.writeMetadata(ctx, meta)
}

func (m *MirrorSet) writeMetadata(ctx context.Context, meta MetadataConf) error {
	data, err := meta.serialize()
	if err != nil {
		return err
	}

	return writeFile(ctx, m.Base, metadataConfPath(m.Name), data)
}

// StartChange marks the set as being updated, rejecting a second concurrent
// change (spec §4.5 "updating" flag).
func (m *MirrorSet) StartChange(ctx context.Context) error {
	meta, err := m.readMetadata(ctx)
	if err != nil {
		return err
	}

	if meta.Updating {
		return fmt.Errorf("%w: change already in progress", lmirrorerr.ErrWrongState)
	}

	meta.Updating = true

	return m.writeMetadata(ctx, meta)
}

// CancelChange clears the updating flag without publishing a new journal.
func (m *MirrorSet) CancelChange(ctx context.Context) error {
	meta, err := m.readMetadata(ctx)
	if err != nil {
		return err
	}

	if !meta.Updating {
		return fmt.Errorf("%w: no change in progress", lmirrorerr.ErrWrongState)
	}

	meta.Updating = false

	return m.writeMetadata(ctx, meta)
}

// FinishChange scans Content against the combined basis..latest tree and
// publishes a new journal if anything changed. If a server is configured, it
// fetches a change hint list from it before scanning and pings it once the
// change has been finished (spec §4.5).
func (m *MirrorSet) FinishChange(ctx context.Context, lastTimestamp float64, content ContentConf) error {
	meta, err := m.readMetadata(ctx)
	if err != nil {
		return err
	}

	if !meta.Updating {
		return fmt.Errorf("%w: no change in progress", lmirrorerr.ErrWrongState)
	}

	server, err := m.GetServer(ctx)
	if err != nil {
		return err
	}

	hints, err := m.fetchHints(ctx, server)
	if err != nil {
		return err
	}

	j, err := m.scanAgainstBasis(ctx, meta.Basis, meta.Latest, lastTimestamp, content, hints)
	if err != nil {
		return err
	}

	if len(j.Paths) == 0 {
		meta.Updating = false

		if err := m.writeMetadata(ctx, meta); err != nil {
			return err
		}

		return m.notifyServerUpdated(ctx, server, lastTimestamp)
	}

	newID := meta.Latest + 1

	journalBytes, err := j.Serialize(journal.V2)
	if err != nil {
		return err
	}

	if err := writeFile(ctx, m.Base, journalPath(m.Name, newID), journalBytes); err != nil {
		return err
	}

	signed, err := m.hasKeyring(ctx)
	if err != nil {
		return err
	}

	if signed {
		if m.Signer == nil {
			return fmt.Errorf("%w: set %q has a keyring but no signer is configured", lmirrorerr.ErrBadSignature, m.Name)
		}

		sig, err := m.Signer.Sign(journalBytes)
		if err != nil {
			return fmt.Errorf("sign journal %d: %w", newID, err)
		}

		if err := writeFile(ctx, m.Base, signaturePath(m.Name, newID), sig); err != nil {
			return err
		}
	}

	meta.Latest = newID
	meta.Timestamp = lastTimestamp
	meta.Updating = false

	if err := m.writeMetadata(ctx, meta); err != nil {
		return err
	}

	return m.notifyServerUpdated(ctx, server, lastTimestamp)
}

// Preview scans Content against the set's current basis..latest tree and
// returns the journal that finish-change would publish, without persisting
// anything or requiring a change to be in progress. It is the stand-alone
// diagnostic scan a caller can run to see what would change.
func (m *MirrorSet) Preview(ctx context.Context, lastTimestamp float64, content ContentConf) (*journal.Journal, error) {
	meta, err := m.readMetadata(ctx)
	if err != nil {
		return nil, err
	}

	server, err := m.GetServer(ctx)
	if err != nil {
		return nil, err
	}

	hints, err := m.fetchHints(ctx, server)
	if err != nil {
		return nil, err
	}

	return m.scanAgainstBasis(ctx, meta.Basis, meta.Latest, lastTimestamp, content, hints)
}

// scanAgainstBasis runs the scanner against the tree folded from basis..latest,
// the shared core of FinishChange and Preview.
func (m *MirrorSet) scanAgainstBasis(ctx context.Context, basis, latest int, lastTimestamp float64, content ContentConf, hints scanner.HintSet) (*journal.Journal, error) {
	priorTree, err := m.combinedTree(ctx, basis, latest)
	if err != nil {
		return nil, err
	}

	opts, err := content.scannerOptions(m.Name, hints)
	if err != nil {
		return nil, err
	}

	if opts.Filters != nil {
		defer opts.Filters.Close()
	}

	sc, err := scanner.New(priorTree, m.Content, lastTimestamp, opts)
	if err != nil {
		return nil, err
	}

	return sc.Scan(ctx)
}

// hasKeyring reports whether this set has a verification keyring under its
// set directory. Keyring presence, not whether a Signer happens to be
// configured, is what decides whether a publish must be signed (spec §3,
// §4.5: "presence ⇒ this set is signed").
func (m *MirrorSet) hasKeyring(ctx context.Context) (bool, error) {
	if _, err := m.Base.Stat(ctx, keyringPath(m.Name)); err != nil {
		if notFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("stat keyring: %w", err)
	}

	return true, nil
}

// fetchHints retrieves the changed-path hint list from server's /changes
// endpoint, or returns nil if no server is configured (spec §4.5, §6).
func (m *MirrorSet) fetchHints(ctx context.Context, server string) (scanner.HintSet, error) {
	if server == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/changes/"+m.Name, nil)
	if err != nil {
		return nil, fmt.Errorf("build changes request: %w", err)
	}

	resp, err := m.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch changes from %q: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch changes from %q: unexpected status %d", server, resp.StatusCode)
	}

	var changed []string
	if err := json.NewDecoder(resp.Body).Decode(&changed); err != nil {
		return nil, fmt.Errorf("decode changes response from %q: %w", server, err)
	}

	hints := make(scanner.HintSet, len(changed))
	for _, p := range changed {
		hints[p] = struct{}{}
	}

	return hints, nil
}

// notifyServerUpdated pings server's /updated endpoint with this set's new
// timestamp once a change has finished, or does nothing if no server is
// configured (spec §4.5, §6).
func (m *MirrorSet) notifyServerUpdated(ctx context.Context, server string, timestamp float64) error {
	if server == "" {
		return nil
	}

	u := server + "/updated/" + m.Name + "?oldest=" + strconv.FormatFloat(timestamp, 'f', -1, 64)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build updated request: %w", err)
	}

	resp, err := m.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("notify %q of update: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("notify %q of update: unexpected status %d", server, resp.StatusCode)
	}

	return nil
}

func (m *MirrorSet) httpClient() *http.Client {
	if m.HTTPClient != nil {
		return m.HTTPClient
	}

	return http.DefaultClient
}

func (m *MirrorSet) loadJournal(ctx context.Context, id int) (*journal.Journal, error) {
	if cached, ok := m.journalCache.Get(id); ok {
		return cached.(*journal.Journal), nil
	}

	data, err := readAll(ctx, m.Base, journalPath(m.Name, id))
	if err != nil {
		return nil, fmt.Errorf("load journal %d: %w", id, err)
	}

	j, _, err := journal.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse journal %d: %w", id, err)
	}

	m.journalCache.Add(id, j)

	return j, nil
}

// combinedTree folds journals basis..latest (basis is itself a from-empty
// snapshot) into the nested tree the scanner diffs against.
func (m *MirrorSet) combinedTree(ctx context.Context, basis, latest int) (map[string]any, error) {
	c := combiner.New()

	for id := basis; id <= latest; id++ {
		j, err := m.loadJournal(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := c.Add(j); err != nil {
			return nil, fmt.Errorf("combine journal %d into basis tree: %w", id, err)
		}
	}

	return c.AsTree()
}

// combinedRange folds the delta journals (from, to] into one journal,
// suitable for generating a replay stream between two points in a set's
// history.
func (m *MirrorSet) combinedRange(ctx context.Context, from, to int) (*journal.Journal, error) {
	c := combiner.New()

	for id := from + 1; id <= to; id++ {
		j, err := m.loadJournal(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := c.Add(j); err != nil {
			return nil, fmt.Errorf("combine journal %d into range: %w", id, err)
		}
	}

	return c.Journal(), nil
}

// GetGenerator returns a replay.Generator that streams the content needed to
// advance a peer from fromID to toID in this set's history.
func (m *MirrorSet) GetGenerator(ctx context.Context, fromID, toID int) (*replay.Generator, error) {
	j, err := m.combinedRange(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}

	return &replay.Generator{Journal: j, Content: m.Content}, nil
}

// Receive pulls and applies every journal newer than this set's own latest
// from source, verifying signatures when a Verifier is configured and
// handling the case where the fetched journals themselves rotate the set's
// keyring (spec §4.6).
func (m *MirrorSet) Receive(ctx context.Context, source *MirrorSet) error {
	ownMeta, err := m.readMetadata(ctx)
	if err != nil {
		return err
	}

	if ownMeta.Updating {
		return fmt.Errorf("%w: local change in progress, cannot receive", lmirrorerr.ErrWrongState)
	}

	sourceMeta, err := source.readMetadata(ctx)
	if err != nil {
		return fmt.Errorf("read source metadata: %w", err)
	}

	if sourceMeta.Latest <= ownMeta.Latest {
		return nil
	}

	fromID, toID := ownMeta.Latest, sourceMeta.Latest

	fetched := make(map[int][]byte, toID-fromID)
	sigs := make(map[int][]byte, toID-fromID)

	for id := fromID + 1; id <= toID; id++ {
		data, err := readAll(ctx, source.Base, journalPath(source.Name, id))
		if err != nil {
			return fmt.Errorf("fetch journal %d from source: %w", id, err)
		}

		fetched[id] = data

		sig, err := readAll(ctx, source.Base, signaturePath(source.Name, id))
		if err != nil {
			if !notFound(err) {
				return fmt.Errorf("fetch signature %d from source: %w", id, err)
			}
		} else {
			sigs[id] = sig
		}
	}

	c := combiner.New()
	for id := fromID + 1; id <= toID; id++ {
		j, _, err := journal.Parse(fetched[id])
		if err != nil {
			return fmt.Errorf("parse fetched journal %d: %w", id, err)
		}

		if err := c.Add(j); err != nil {
			return fmt.Errorf("combine fetched journal %d: %w", id, err)
		}
	}

	recvJournal := c.Journal()

	if m.Verifier != nil {
		keyring, haveKeyring, err := m.resolveVerificationKeyring(ctx, source, recvJournal)
		if err != nil {
			return err
		}

		if haveKeyring {
			for id := fromID + 1; id <= toID; id++ {
				sig, ok := sigs[id]
				if !ok {
					return fmt.Errorf("%w: journal %d is unsigned but set has a keyring", lmirrorerr.ErrBadSignature, id)
				}

				if err := m.Verifier.Verify(keyring, sig, fetched[id]); err != nil {
					return fmt.Errorf("verify journal %d: %w", id, err)
				}
			}
		}
	}

	generator, err := source.GetGenerator(ctx, fromID, toID)
	if err != nil {
		return err
	}

	replayer := &replay.Replayer{Dest: m.Content, Expected: recvJournal, VerifyWrites: m.VerifyWrites}

	if err := streamReplay(ctx, generator, replayer); err != nil {
		return fmt.Errorf("replay from source: %w", err)
	}

	for id := fromID + 1; id <= toID; id++ {
		if err := writeFile(ctx, m.Base, journalPath(m.Name, id), fetched[id]); err != nil {
			return err
		}

		if sig, ok := sigs[id]; ok {
			if err := writeFile(ctx, m.Base, signaturePath(m.Name, id), sig); err != nil {
				return err
			}
		}
	}

	ownMeta.Latest = toID
	ownMeta.Timestamp = sourceMeta.Timestamp

	return m.writeMetadata(ctx, ownMeta)
}

// resolveVerificationKeyring returns the keyring bytes to verify the fetched
// batch against. If recvJournal itself mutates this set's keyring path, that
// new keyring is materialized from source first (spec §4.6 step 3), since it
// must be trusted before it can be used to verify anything, including the
// batch that introduced it.
func (m *MirrorSet) resolveVerificationKeyring(ctx context.Context, source *MirrorSet, recvJournal *journal.Journal) ([]byte, bool, error) {
	keyPath := keyringPath(m.Name)

	entry, rotated := recvJournal.Paths[keyPath]
	if !rotated {
		data, err := readAll(ctx, m.Base, keyPath)
		if err != nil {
			if notFound(err) {
				return nil, false, nil
			}

			return nil, false, fmt.Errorf("read current keyring: %w", err)
		}

		return data, true, nil
	}

	mini := journal.New()
	if err := addMiniEntry(mini, keyPath, entry); err != nil {
		return nil, false, err
	}

	generator := &replay.Generator{Journal: mini, Content: source.Content}
	replayer := &replay.Replayer{Dest: m.Base, Expected: mini}

	if err := streamReplay(ctx, generator, replayer); err != nil {
		return nil, false, fmt.Errorf("materialize rotated keyring: %w", err)
	}

	data, err := readAll(ctx, m.Base, keyPath)
	if err != nil {
		return nil, false, fmt.Errorf("read rotated keyring: %w", err)
	}

	return data, true, nil
}

func addMiniEntry(j *journal.Journal, path string, entry journal.Entry) error {
	switch entry.Action {
	case journal.ActionNew:
		return j.Add(path, journal.ActionNew, entry.New)
	case journal.ActionReplace:
		return j.AddReplace(path, entry.Old, entry.New)
	case journal.ActionDel:
		return j.Add(path, journal.ActionDel, entry.Old)
	default:
		return fmt.Errorf("%w: unknown action for %q", lmirrorerr.ErrBadFormat, path)
	}
}

// streamReplay pipes a Generator directly into a Replayer without staging
// the whole transfer in memory.
func streamReplay(ctx context.Context, g *replay.Generator, r *replay.Replayer) error {
	pr, pw := io.Pipe()

	genErr := make(chan error, 1)

	go func() {
		err := g.Generate(ctx, pw)
		genErr <- err
		pw.CloseWithError(err)
	}()

	applyErr := r.Apply(ctx, pr)
	if applyErr != nil {
		pr.CloseWithError(applyErr)
		<-genErr

		return applyErr
	}

	if err := <-genErr; err != nil {
		return err
	}

	return nil
}

func notFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, transport.ErrNotLocal)
}

func writeFile(ctx context.Context, tr transport.Transport, path string, data []byte) error {
	w, err := tr.PutWriter(ctx, path)
	if err != nil {
		return fmt.Errorf("open %q for write: %w", path, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()

		return fmt.Errorf("write %q: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close %q: %w", path, err)
	}

	return nil
}

func readAll(ctx context.Context, tr transport.Transport, path string) ([]byte, error) {
	r, err := tr.GetReader(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %q for read: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}

	return data, nil
}

func readString(ctx context.Context, tr transport.Transport, path string) (string, error) {
	data, err := readAll(ctx, tr, path)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

// LogValue lets a MirrorSet be logged directly with slog.
func (m *MirrorSet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("set", m.Name),
		slog.String("content_root", m.contentRoot),
	)
}
