package prevday

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "optionchain/internal/errors"
	"optionchain/internal/models"
	"optionchain/pkg/utils"
)

const (
	filePrefix = "prevday_"
	fileSuffix = ".json"
)

// fileEntry is one token's record on disk.
type fileEntry struct {
	models.OHLC
	CandleDay string `json:"candle_day,omitempty"`
}

// DayFile returns the path of the day file for day.
func (s *Store) DayFile(day time.Time) string {
	return filepath.Join(s.cfg.Dir, filePrefix+day.Format(utils.DayLayout)+fileSuffix)
}

func (s *Store) readDay(day time.Time) (map[uint32]models.PrevDayRecord, error) {
	if s.cfg.Dir == "" {
		return nil, nil
	}
	s.fileMu.Lock()
	entries, err := readEntries(s.DayFile(day))
	s.fileMu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(map[uint32]models.PrevDayRecord, len(entries))
	for key, e := range entries {
		tok, err := strconv.ParseUint(key, 10, 32)
		if err != nil || !e.OHLC.Valid() {
			continue
		}
		rec := models.PrevDayRecord{
			Token:         uint32(tok),
			ForTradingDay: day,
			OHLC:          e.OHLC,
			CandleDay:     day,
		}
		if e.CandleDay != "" {
			if cd, err := time.ParseInLocation(utils.DayLayout, e.CandleDay, utils.IndiaLocation); err == nil {
				rec.CandleDay = cd
			}
		}
		out[uint32(tok)] = rec
	}
	return out, nil
}

func readEntries(path string) (map[string]fileEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]fileEntry{}, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "reading %s", path)
	}
	entries := make(map[string]fileEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, apperrors.Wrapf(err, "decoding %s", path)
	}
	return entries, nil
}

// persist merges recs into the day file through a temp file and rename.
func (s *Store) persist(day time.Time, recs map[uint32]models.PrevDayRecord) error {
	if s.cfg.Dir == "" || len(recs) == 0 {
		return nil
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	path := s.DayFile(day)
	entries, err := readEntries(path)
	if err != nil {
		// An unreadable file is replaced.
		s.logger.Warn().Err(err).Str("path", path).Msg("Discarding unreadable day file")
		entries = make(map[string]fileEntry)
	}
	for tok, rec := range recs {
		entries[strconv.FormatUint(uint64(tok), 10)] = fileEntry{
			OHLC:      rec.OHLC,
			CandleDay: rec.CandleDay.Format(utils.DayLayout),
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return apperrors.Wrap(err, "encoding day file")
	}

	tmp, err := os.CreateTemp(s.cfg.Dir, filePrefix+"*.tmp")
	if err != nil {
		return apperrors.Wrap(err, "creating temp day file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.Wrap(err, "writing temp day file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(err, "closing temp day file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(err, "renaming day file")
	}
	return nil
}

// DayFileInfo describes one day file on disk.
type DayFileInfo struct {
	Day     time.Time
	Path    string
	Size    int64
	ModTime time.Time
}

// Files lists day files in the cache directory, oldest first.
func (s *Store) Files() ([]DayFileInfo, error) {
	if s.cfg.Dir == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(s.cfg.Dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, apperrors.Wrap(err, "listing day files")
	}

	var out []DayFileInfo
	for _, p := range paths {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), filePrefix), fileSuffix)
		day, err := time.ParseInLocation(utils.DayLayout, name, utils.IndiaLocation)
		if err != nil {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		out = append(out, DayFileInfo{Day: day, Path: p, Size: info.Size(), ModTime: info.ModTime()})
	}
	// Glob returns lexical order, which is chronological for ISO dates.
	return out, nil
}

// Prune deletes day files older than the retention window and returns how
// many were removed.
func (s *Store) Prune(now time.Time) (int, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	files, err := s.Files()
	if err != nil {
		return 0, err
	}

	cutoff := utils.TradingDay(now).AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	for _, f := range files {
		if !f.Day.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return removed, apperrors.Wrapf(err, "removing %s", f.Path)
		}
		removed++
		s.logger.Debug().Str("path", f.Path).Msg("Pruned day file")
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Int("retention_days", s.cfg.RetentionDays).Msg("Previous-day cache pruned")
	}
	return removed, nil
}
