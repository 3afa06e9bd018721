package mirrorset

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/desertwitch/lmirror/internal/lmirrorerr"
)

// SetConf is a mirror set's set.conf: which part of the base tree is the
// tracked content (spec §3 "set.conf").
type SetConf struct {
	ContentRoot string
}

func parseSetConf(data []byte) (SetConf, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return SetConf{}, fmt.Errorf("%w: parse set.conf: %w", lmirrorerr.ErrBadFormat, err)
	}

	return SetConf{ContentRoot: cfg.Section("set").Key("content_root").String()}, nil
}

func (s SetConf) serialize() ([]byte, error) {
	cfg := ini.Empty()

	sec, err := cfg.NewSection("set")
	if err != nil {
		return nil, fmt.Errorf("build set.conf: %w", err)
	}

	sec.Key("content_root").SetValue(s.ContentRoot)

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write set.conf: %w", err)
	}

	return buf.Bytes(), nil
}

// MetadataConf is a mirror set's metadata.conf: journal numbering and
// publish state (spec §3 "metadata.conf").
type MetadataConf struct {
	Basis     int
	Latest    int
	Timestamp float64
	Updating  bool
	Server    string
}

func parseMetadataConf(data []byte) (MetadataConf, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return MetadataConf{}, fmt.Errorf("%w: parse metadata.conf: %w", lmirrorerr.ErrBadFormat, err)
	}

	sec := cfg.Section("metadata")

	basis, err := sec.Key("basis").Int()
	if err != nil {
		return MetadataConf{}, fmt.Errorf("%w: bad basis: %w", lmirrorerr.ErrBadFormat, err)
	}

	latest, err := sec.Key("latest").Int()
	if err != nil {
		return MetadataConf{}, fmt.Errorf("%w: bad latest: %w", lmirrorerr.ErrBadFormat, err)
	}

	var timestamp float64
	if v := sec.Key("timestamp").String(); v != "" {
		timestamp, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return MetadataConf{}, fmt.Errorf("%w: bad timestamp: %w", lmirrorerr.ErrBadFormat, err)
		}
	}

	updating, err := sec.Key("updating").Bool()
	if err != nil {
		return MetadataConf{}, fmt.Errorf("%w: bad updating: %w", lmirrorerr.ErrBadFormat, err)
	}

	return MetadataConf{
		Basis:     basis,
		Latest:    latest,
		Timestamp: timestamp,
		Updating:  updating,
		Server:    sec.Key("server").String(),
	}, nil
}

func (m MetadataConf) serialize() ([]byte, error) {
	cfg := ini.Empty()

	sec, err := cfg.NewSection("metadata")
	if err != nil {
		return nil, fmt.Errorf("build metadata.conf: %w", err)
	}

	sec.Key("basis").SetValue(strconv.Itoa(m.Basis))
	sec.Key("latest").SetValue(strconv.Itoa(m.Latest))
	sec.Key("timestamp").SetValue(strconv.FormatFloat(m.Timestamp, 'f', -1, 64))
	sec.Key("updating").SetValue(strconv.FormatBool(m.Updating))

	if m.Server != "" {
		sec.Key("server").SetValue(m.Server)
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write metadata.conf: %w", err)
	}

	return buf.Bytes(), nil
}
