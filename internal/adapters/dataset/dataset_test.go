package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/holdout/internal/domain/scoring"
)

const solutionCSV = `Id,Predicted,Public
a,1,1
b,0,0
c,1,0
`

func TestValidateSolution(t *testing.T) {
	Convey("ValidateSolution", t, func() {
		Convey("accepts a well formed solution", func() {
			sol, err := ValidateSolution(strings.NewReader(solutionCSV))
			So(err, ShouldBeNil)
			So(sol, ShouldResemble, scoring.Solution{
				{ID: "a", Value: 1, Public: true},
				{ID: "b", Value: 0, Public: false},
				{ID: "c", Value: 1, Public: false},
			})
		})

		Convey("accepts columns in any order", func() {
			sol, err := ValidateSolution(strings.NewReader("Public,Id,Predicted\n1,a,3\n0,b,4\n"))
			So(err, ShouldBeNil)
			So(sol[0], ShouldResemble, scoring.Truth{ID: "a", Value: 3, Public: true})
		})

		cases := map[string]string{
			"missing Public column": "Id,Predicted\na,1\n",
			"extra column":          "Id,Predicted,Public,X\na,1,1,0\n",
			"public outside 0/1":    "Id,Predicted,Public\na,1,2\nb,1,0\n",
			"only public rows":      "Id,Predicted,Public\na,1,1\nb,1,1\n",
			"non numeric value":     "Id,Predicted,Public\na,x,1\nb,1,0\n",
			"NaN value":             "Id,Predicted,Public\na,NaN,1\nb,1,0\n",
			"infinite value":        "Id,Predicted,Public\na,1,1\nb,-Inf,0\n",
			"duplicate id":          "Id,Predicted,Public\na,1,1\na,1,0\n",
			"empty file":            "",
		}
		for name, body := range cases {
			body := body
			Convey("rejects "+name, func() {
				_, err := ValidateSolution(strings.NewReader(body))
				So(errors.Is(err, ErrInvalidSolution), ShouldBeTrue)
			})
		}
	})
}

func TestValidatePredictions(t *testing.T) {
	Convey("Given a solution", t, func() {
		sol, err := ValidateSolution(strings.NewReader(solutionCSV))
		So(err, ShouldBeNil)

		Convey("matching predictions are parsed", func() {
			pred, err := ValidatePredictions(strings.NewReader("Id,Predicted\nc,0.5\na,1\nb,0\n"), sol)
			So(err, ShouldBeNil)
			So(pred, ShouldResemble, scoring.Predictions{"a": 1, "b": 0, "c": 0.5})
		})

		cases := map[string]string{
			"wrong length":   "Id,Predicted\na,1\nb,0\n",
			"foreign id":     "Id,Predicted\na,1\nb,0\nz,1\n",
			"missing column": "Id\na\nb\nc\n",
			"extra column":   "Id,Predicted,Public\na,1,1\nb,0,0\nc,1,0\n",
			"duplicate id":   "Id,Predicted\na,1\na,0\nb,1\n",
			"bad number":     "Id,Predicted\na,1\nb,zero\nc,1\n",
			"ragged rows":    "Id,Predicted\na,1,9\nb,0\nc,1\n",
			"NaN prediction": "Id,Predicted\na,NaN\nb,0\nc,1\n",
			"nan lowercase":  "Id,Predicted\na,1\nb,nan\nc,1\n",
			"Inf prediction": "Id,Predicted\na,1\nb,0\nc,Inf\n",
			"-Inf value":     "Id,Predicted\na,-Inf\nb,0\nc,1\n",
			"Infinity":       "Id,Predicted\na,1\nb,+Infinity\nc,1\n",
		}
		for name, body := range cases {
			body := body
			Convey("rejects "+name, func() {
				_, err := ValidatePredictions(strings.NewReader(body), sol)
				So(errors.Is(err, ErrInvalidSubmission), ShouldBeTrue)
			})
		}
	})
}

func TestCheckExtension(t *testing.T) {
	Convey("Only .csv uploads are accepted", t, func() {
		So(CheckExtension("preds.csv"), ShouldBeNil)
		So(CheckExtension("PREDS.CSV"), ShouldBeNil)
		So(errors.Is(CheckExtension("preds.xlsx"), ErrUnsupportedFormat), ShouldBeTrue)
		So(errors.Is(CheckExtension("preds"), ErrUnsupportedFormat), ShouldBeTrue)
	})
}

func TestLoadSolution(t *testing.T) {
	Convey("LoadSolution reads from disk", t, func() {
		path := filepath.Join(t.TempDir(), "solution.csv")
		So(os.WriteFile(path, []byte(solutionCSV), 0o600), ShouldBeNil)

		sol, err := LoadSolution(path)
		So(err, ShouldBeNil)
		So(sol, ShouldHaveLength, 3)

		_, err = LoadSolution(filepath.Join(t.TempDir(), "missing.csv"))
		So(err, ShouldNotBeNil)
	})
}
