package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Mayor78/mtbm-attendance-sub000/common"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

// ProfileDatabase resolves student display metadata from the roster DB. A
// missing student is a terminal error: retrying the lookup cannot make the
// row appear, so the aggregator falls back to placeholder identity at once.
type ProfileDatabase struct {
	opts   ProfileDbOpts
	logger models.Logger
}

type ProfileDbOpts struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func NewProfileDb(opts ProfileDbOpts, logger models.Logger) *ProfileDatabase {
	return &ProfileDatabase{opts, logger}
}

func (pdb *ProfileDatabase) GetProfile(ctx context.Context, studentId string) (*models.ProfileSummary, error) {
	dbCtx, dbCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer dbCancel()

	connUrl := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		pdb.opts.User,
		pdb.opts.Password,
		pdb.opts.Host,
		pdb.opts.Port,
		pdb.opts.Name,
	)
	conn, err := pgx.Connect(dbCtx, connUrl)
	if err != nil {
		pdb.logger.Errorf("profile: error connecting to db: %v", err)
		return nil, models.NewTransientError("profile db unreachable", err)
	}
	defer conn.Close(context.Background())

	profile := models.ProfileSummary{StudentId: studentId}
	row := conn.QueryRow(
		dbCtx,
		"SELECT s.name, c.code FROM student s JOIN course c ON c.id = s.course_id WHERE s.id = $1",
		studentId,
	)
	if err = row.Scan(&profile.Name, &profile.CourseCode); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewTerminalError("unknown student "+studentId, err)
		}
		pdb.logger.Errorf("profile: error querying db: %v", err)
		return nil, models.NewTransientError("profile query failed", err)
	}
	return &profile, nil
}
