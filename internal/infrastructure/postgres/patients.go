package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
)

// PatientDirectory resolves PID segments to hospital patients
type PatientDirectory struct {
	pool *pgxpool.Pool
}

// NewPatientDirectory creates a directory backed by hospital_patient
func NewPatientDirectory(pool *pgxpool.Pool) *PatientDirectory {
	return &PatientDirectory{pool: pool}
}

// ResolvePatient matches active site MRNs first, then the RAMQ number
func (d *PatientDirectory) ResolvePatient(ctx context.Context, pid *er7.PID) (uuid.UUID, error) {
	var id uuid.UUID

	for _, m := range pid.MRNSites {
		err := d.pool.QueryRow(ctx, `
			SELECT patient_id FROM hospital_patient_mrn
			WHERE site = $1 AND mrn = $2 AND is_active
		`, m.Site, m.MRN).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("lookup mrn %s/%s: %w", m.Site, m.MRN, err)
		}
	}

	if pid.RAMQ != "" {
		err := d.pool.QueryRow(ctx, `SELECT id FROM hospital_patient WHERE ramq = $1`, pid.RAMQ).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("lookup ramq: %w", err)
		}
	}

	return uuid.Nil, fmt.Errorf("patient %s %s: %w", pid.FirstName, pid.LastName, pharmacy.ErrNotFound)
}

// SiteDirectory lists the institution's hospital sites
type SiteDirectory struct {
	pool *pgxpool.Pool
}

// NewSiteDirectory creates a directory backed by hospital_site
func NewSiteDirectory(pool *pgxpool.Pool) *SiteDirectory {
	return &SiteDirectory{pool: pool}
}

// KnownSites returns every site acronym
func (d *SiteDirectory) KnownSites(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT acronym FROM hospital_site ORDER BY acronym`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	sites, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan sites: %w", err)
	}
	return sites, nil
}
