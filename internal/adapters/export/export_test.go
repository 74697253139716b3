package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/holdout/internal/domain/model"
)

type staticSource struct {
	records []model.Record
	err     error
}

func (s staticSource) Records(context.Context) ([]model.Record, error) { return s.records, s.err }

type failingSink struct{}

func (failingSink) Put(context.Context, string, io.Reader) error { return errors.New("disk full") }

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	body map[string]string
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *in.Bucket+":"+*in.Key)
	if f.body == nil {
		f.body = map[string]string{}
	}
	f.body[*in.Key] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestExporter(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	records := []model.Record{
		{
			Submission: model.Submission{ID: 1, UserID: "alice", CreatedAt: at, ArtifactRef: "a.csv"},
			Evaluation: &model.Evaluation{SubmissionID: 1, PublicScore: 0.5, PrivateScore: 0.25, EvaluatedAt: at, SelectedForFinal: true},
		},
		{Submission: model.Submission{ID: 2, UserID: "prof", CreatedAt: at, ArtifactRef: "b.csv"}},
	}

	Convey("FileName follows the dump naming scheme", t, func() {
		So(FileName("submissions", "CLOSED", at), ShouldEqual, "submissions_CLOSED_20240506070809_dump.csv")
	})

	Convey("Given a directory sink", t, func() {
		dir := t.TempDir()
		sink, err := NewDirSink(dir)
		So(err, ShouldBeNil)
		e := New(staticSource{records: records}, sink, WithClock(func() time.Time { return at }))

		Convey("Export writes both tables", func() {
			res, err := e.Export(ctx, "CLOSED")
			So(err, ShouldBeNil)
			So(res.RunID, ShouldNotBeEmpty)
			So(res.Submissions, ShouldEqual, 2)
			So(res.Evaluations, ShouldEqual, 1)

			subs, err := os.ReadFile(filepath.Join(dir, "submissions_CLOSED_20240506070809_dump.csv"))
			So(err, ShouldBeNil)
			So(string(subs), ShouldEqual, "id,user_id,created_at,artifact_ref\n"+
				"1,alice,2024/05/06 07:08:09,a.csv\n"+
				"2,prof,2024/05/06 07:08:09,b.csv\n")

			evals, err := os.ReadFile(filepath.Join(dir, "evaluations_CLOSED_20240506070809_dump.csv"))
			So(err, ShouldBeNil)
			So(string(evals), ShouldEqual, "submission_id,public_score,private_score,evaluated_at,selected_for_final\n"+
				"1,0.5,0.25,2024/05/06 07:08:09,true\n")

			entries, _ := os.ReadDir(dir)
			So(entries, ShouldHaveLength, 2)
		})

		Convey("a snapshot failure is returned", func() {
			e := New(staticSource{err: errors.New("db down")}, sink)
			_, err := e.Export(ctx, "TERMINATED")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("A sink failure fails the export", t, func() {
		_, err := New(staticSource{records: records}, failingSink{}).Export(ctx, "CLOSED")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "disk full")
	})

	Convey("NewDirSink requires an existing directory", t, func() {
		_, err := NewDirSink(filepath.Join(t.TempDir(), "missing"))
		So(errors.Is(err, ErrDumpDirMissing), ShouldBeTrue)
	})

	Convey("Given an S3 sink", t, func() {
		putter := &fakePutter{}
		sink := newS3Sink(putter, "dumps", "/competition/")

		Convey("objects are keyed under the prefix", func() {
			So(sink.Put(ctx, "x.csv", bytes.NewReader([]byte("a,b\n"))), ShouldBeNil)
			So(putter.keys, ShouldResemble, []string{"dumps:competition/x.csv"})
			So(putter.body["competition/x.csv"], ShouldEqual, "a,b\n")
		})

		Convey("the exporter uploads both tables", func() {
			_, err := New(staticSource{records: records}, sink, WithClock(func() time.Time { return at })).Export(ctx, "CLOSED")
			So(err, ShouldBeNil)
			So(putter.keys, ShouldHaveLength, 2)
			So(strings.Join(putter.keys, " "), ShouldContainSubstring, "competition/evaluations_CLOSED_20240506070809_dump.csv")
		})
	})

	Convey("NewS3Sink requires a bucket", t, func() {
		_, err := NewS3Sink(ctx, S3Config{})
		So(errors.Is(err, ErrBucketRequired), ShouldBeTrue)
	})
}
