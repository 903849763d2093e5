package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/smtpserver"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

const recipientsCSV = "Nombre,Correo,Dirección\n" +
	"Juan Pérez García,juan@example.com,Calle Mayor 1\n" +
	"Acme S.L.,acme@example.com,Avenida del Puerto 22\n"

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"Garcia Perez Juan.pdf", "ACME SL.pdf", "Zeta Corp.pdf"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("%PDF-1.4 " + name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	archive := filepath.Join(dir, "cartas.zip")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o600))
	people := filepath.Join(dir, "clientes.csv")
	require.NoError(t, os.WriteFile(people, []byte(recipientsCSV), 0o600))
	return archive, people
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PATH", "")
	t.Setenv("THROTTLE_SECONDS", "0")
	t.Setenv("LOCK_PATH", filepath.Join(t.TempDir(), "envios.lock"))
	t.Setenv("SMTP_SENDER", "ops@natu.es")
	t.Setenv("SANDBOX_AUTH_ENABLED", "false")
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "sandbox", "match", "split", "send"})
}

func TestMatchCommand(t *testing.T) {
	isolateEnv(t)
	archive, people := writeInputs(t)
	unmatchedOut := filepath.Join(t.TempDir(), "unmatched.csv")

	out, err := runCommand(t, "match", "--archive", archive, "--recipients", people, "--unmatched-out", unmatchedOut)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Garcia Perez Juan")
	assert.Contains(t, out, "juan@example.com")
	assert.Contains(t, out, "unmatched: Zeta Corp.pdf")
	assert.Contains(t, out, "2 matched, 1 unmatched")

	file, err := os.Open(unmatchedOut)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Unmatched PDF"}, {"Zeta Corp.pdf"}}, rows)
}

func TestMatchCommandRequiresSource(t *testing.T) {
	isolateEnv(t)
	_, people := writeInputs(t)
	_, err := runCommand(t, "match", "--recipients", people)
	assert.Error(t, err)
}

// listenSandbox runs a capture server on a free port and points
// SANDBOX_SMTP_PORT at it.
func listenSandbox(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(ctx))
	t.Cleanup(func() { _ = st.Close() })

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := smtpserver.New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), l.Addr().String(), smtpserver.AuthConfig{}, nil)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	t.Setenv("SANDBOX_SMTP_PORT", strconv.Itoa(l.Addr().(*net.TCPAddr).Port))
	return st
}

func TestSendCommandThroughSandbox(t *testing.T) {
	isolateEnv(t)
	archive, people := writeInputs(t)
	ctx := context.Background()
	st := listenSandbox(t)

	logOut := filepath.Join(t.TempDir(), "log.csv")
	out, err := runCommand(t, "send", "--sandbox", "--archive", archive, "--recipients", people, "--log-out", logOut)
	require.NoError(t, err, out)
	assert.Contains(t, out, "[1/2] Garcia Perez Juan -> juan@example.com Sent")
	assert.Contains(t, out, "Completed: 2 sent, 0 failed")

	file, err := os.Open(logOut)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"ACME SL", "acme@example.com", "Sent", ""}, rows[2][:4])

	_, total, err := st.ListCaptured(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), total)
}

func TestSendCommandExcludesLetters(t *testing.T) {
	isolateEnv(t)
	archive, people := writeInputs(t)
	st := listenSandbox(t)

	logOut := filepath.Join(t.TempDir(), "log.csv")
	out, err := runCommand(t, "send", "--sandbox", "--archive", archive, "--recipients", people,
		"--exclude", "ACME SL.pdf", "--log-out", logOut)
	require.NoError(t, err, out)
	assert.Contains(t, out, "excluded ACME SL")
	assert.Contains(t, out, "[1/1] Garcia Perez Juan -> juan@example.com Sent")
	assert.Contains(t, out, "Completed: 1 sent, 0 failed")

	captured, total, err := st.ListCaptured(context.Background(), "acme@example.com", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, captured)
	_, total, err = st.ListCaptured(context.Background(), "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), total)
}

func TestSendCommandRejectsUnknownExclusion(t *testing.T) {
	isolateEnv(t)
	archive, people := writeInputs(t)
	st := listenSandbox(t)

	out, err := runCommand(t, "send", "--sandbox", "--archive", archive, "--recipients", people,
		"--exclude", "Nobody", "--exclude", "Zeta Corp")
	require.Error(t, err, out)
	assert.ErrorContains(t, err, "no matched letter named Nobody, Zeta Corp")

	_, total, err := st.ListCaptured(context.Background(), "", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestWatchSignalsStopReturnsWithoutSignal(t *testing.T) {
	signals := make(chan os.Signal)
	stop := watchSignals(signals, func() { t.Error("watcher fired without a signal") })

	stopped := make(chan struct{})
	go func() {
		stop()
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after stop")
	}
}

func TestWatchSignalsCallsHandler(t *testing.T) {
	signals := make(chan os.Signal, 1)
	fired := make(chan struct{})
	stop := watchSignals(signals, func() { close(fired) })
	signals <- syscall.SIGINT

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	stop()
}

func TestSendCommandRequiresCredentials(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SMTP_PASSWORD", "")
	archive, people := writeInputs(t)
	_, err := runCommand(t, "send", "--archive", archive, "--recipients", people)
	assert.ErrorContains(t, err, "smtp.password")
}

func TestRenderTable(t *testing.T) {
	rendered := renderTable([]string{"Letter", "Score"}, [][]string{{"Juan", "95"}, {"Acme"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, rendered, "Letter")
	assert.Contains(t, rendered, "Juan")
	assert.Contains(t, rendered, "95")
	assert.Empty(t, renderTable(nil, nil, nil))
}
