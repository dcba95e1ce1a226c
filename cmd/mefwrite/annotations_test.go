package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/msel-source/mefwriter/annotation"
	"github.com/msel-source/mefwriter/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayAnnotationsAllKinds(t *testing.T) {
	root := t.TempDir()
	sess := session.New(root, "sess1", 0, false)

	csvPath := filepath.Join(root, "annotations.csv")
	content := "# comment\n" +
		"1000,Note,patient moved\n" +
		"2000,Seiz,dr-smith,12,0.875\n" +
		"3000,Curs,onset,1.5\n" +
		"4000,Epoc,sleep,stage 2,60000000\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(content), 0644))

	w, err := annotation.Create(root, "sess1", sess)
	require.NoError(t, err)

	n, err := replayAnnotations(w, csvPath)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, w.Close())
}

func TestReplayAnnotationsRejectsUnknownKind(t *testing.T) {
	root := t.TempDir()
	sess := session.New(root, "sess1", 0, false)

	csvPath := filepath.Join(root, "annotations.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("1000,Bogus,x\n"), 0644))

	w, err := annotation.Create(root, "sess1", sess)
	require.NoError(t, err)
	defer w.Close()

	_, err = replayAnnotations(w, csvPath)
	assert.Error(t, err)
}

func TestParseAnnotationRecordSeiz(t *testing.T) {
	kind, body, err := parseAnnotationRecord("Seiz", []string{"dr-jones", "3", "0.5"})
	require.NoError(t, err)
	assert.Equal(t, annotation.Seiz, kind)
	seiz, ok := body.(annotation.SeizBody)
	require.True(t, ok)
	assert.Equal(t, "dr-jones", seiz.AnnotatorID)
	assert.Equal(t, int32(3), seiz.ClinicalCode)
	assert.Equal(t, 0.5, seiz.Probability)
}
