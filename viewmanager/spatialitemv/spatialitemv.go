// Package spatialitemv implements viewmanager.Port against SpatiaLite.
// SQLite has no MATERIALIZED VIEW statement, so cached results are staged
// as ordinary (non-TEMP, so they survive connection churn within a
// session) tables with a RecoverGeometryColumn + spatial index pair.
package spatialitemv

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/sqlsafe"
	"github.com/filtermate/spatialengine/viewmanager"
)

var log = fmlog.For("viewmanager.spatialitemv")

// Manager is a SpatiaLite-backed viewmanager.Port.
type Manager struct {
	db *sql.DB

	mu    sync.Mutex
	views map[string]map[string]model.ViewInfo
}

// New constructs a Manager over an already-opened SpatiaLite *sql.DB.
func New(db *sql.DB) *Manager {
	return &Manager{db: db, views: make(map[string]map[string]model.ViewInfo)}
}

func (m *Manager) track(sessionID string, v model.ViewInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views[sessionID] == nil {
		m.views[sessionID] = make(map[string]model.ViewInfo)
	}
	m.views[sessionID][v.Name] = v
}

// Create implements viewmanager.Port.
func (m *Manager) Create(req viewmanager.Request) (model.ViewInfo, bool, error) {
	name := viewmanager.Name(req.Kind, req.SessionID, req.Query)

	m.mu.Lock()
	if existing, ok := m.views[req.SessionID][name]; ok {
		m.mu.Unlock()
		return existing, true, nil
	}
	m.mu.Unlock()

	quoted := sqlsafe.MustQuoteIdent(name)

	if _, err := m.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoted)); err != nil {
		return model.ViewInfo{}, false, fmt.Errorf("spatialitemv: dropping stale %s: %w", name, err)
	}
	if _, err := m.db.Exec(fmt.Sprintf(`CREATE TABLE %s AS %s`, quoted, req.Query)); err != nil {
		return model.ViewInfo{}, false, fmt.Errorf("spatialitemv: creating %s: %w", name, err)
	}

	if req.GeomColumn != "" {
		recover := fmt.Sprintf(
			`SELECT RecoverGeometryColumn('%s', '%s', %d, 'GEOMETRY', 'XY')`,
			name, req.GeomColumn, req.SRID,
		)
		if _, err := m.db.Exec(recover); err != nil {
			log.WithField("view", name).WithError(err).Warn("RecoverGeometryColumn failed")
		} else if _, err := m.db.Exec(fmt.Sprintf(`SELECT CreateSpatialIndex('%s', '%s')`, name, req.GeomColumn)); err != nil {
			log.WithField("view", name).WithError(err).Warn("CreateSpatialIndex failed")
		}
	}
	if req.PKColumn != "" {
		idxName := sqlsafe.MustQuoteIdent(name + "_pk")
		btree := fmt.Sprintf(`CREATE INDEX %s ON %s (%s)`, idxName, quoted, sqlsafe.MustQuoteIdent(req.PKColumn))
		if _, err := m.db.Exec(btree); err != nil {
			log.WithField("view", name).WithError(err).Warn("b-tree index failed")
		}
	}

	rowCount, err := m.rowCount(quoted)
	if err != nil {
		log.WithField("view", name).WithError(err).Warn("row count probe failed")
	}

	info := model.ViewInfo{
		Name:            name,
		Kind:            "temp_table",
		RowCount:        rowCount,
		IsPopulated:     true,
		Definition:      req.Query,
		SessionID:       req.SessionID,
		GeometryColumn:  req.GeomColumn,
		SRID:            req.SRID,
		HasSpatialIndex: req.GeomColumn != "",
	}
	m.track(req.SessionID, info)
	return info, false, nil
}

func (m *Manager) rowCount(quoted string) (int64, error) {
	var n int64
	row := m.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoted))
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Refresh implements viewmanager.Port: SQLite has no REFRESH statement, so
// this always drops and recreates.
func (m *Manager) Refresh(view model.ViewInfo, query string) error {
	quoted := sqlsafe.MustQuoteIdent(view.Name)
	if _, err := m.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoted)); err != nil {
		return err
	}
	_, err := m.db.Exec(fmt.Sprintf(`CREATE TABLE %s AS %s`, quoted, query))
	return err
}

// Cleanup implements viewmanager.Port.
func (m *Manager) Cleanup(sessionID string) (int, error) {
	m.mu.Lock()
	views := m.views[sessionID]
	delete(m.views, sessionID)
	m.mu.Unlock()

	dropped := 0
	for _, v := range views {
		quoted := sqlsafe.MustQuoteIdent(v.Name)
		if v.HasSpatialIndex {
			m.db.Exec(fmt.Sprintf(`SELECT DisableSpatialIndex('%s', '%s')`, v.Name, v.GeometryColumn))
		}
		if _, err := m.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoted)); err != nil {
			log.WithField("view", v.Name).WithError(err).Warn("cleanup: drop failed, continuing")
			continue
		}
		dropped++
	}
	return dropped, nil
}

// Views implements viewmanager.Port.
func (m *Manager) Views(sessionID string) []model.ViewInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ViewInfo, 0, len(m.views[sessionID]))
	for _, v := range m.views[sessionID] {
		out = append(out, v)
	}
	return out
}
