// Command opticalsend drives a local loopback demonstration of the
// protocol end to end: handshake, chunk, encrypt, send over both a
// simulated visual channel and a simulated binary channel, and
// reassemble on the receiving side. There is no real camera, QR
// scanner, or WebRTC signaling here; internal/transport.Loopback
// stands in for both, exactly as the teacher's own cmd/ tools (jcp,
// mover) exercise their transfer logic against a local pair before
// ever touching a real socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/glycerine/idem"
	"golang.org/x/term"

	opticalsend "github.com/opticalsend/opticalsend"
	"github.com/opticalsend/opticalsend/internal/aead"
	"github.com/opticalsend/opticalsend/internal/transport"
)

func main() {
	var (
		path       = flag.String("file", "", "path of the file to send (demo: read, transferred in-process, written back out)")
		out        = flag.String("out", "", "where the receiver writes the reassembled file (default: <file>.received)")
		dropVisual = flag.Int("drop-every", 0, "demo only: drop every Nth visual frame (0 disables); no NACK is sent for a dropped frame, so its block is never completed and the send ends with missing blocks")
		noBinary   = flag.Bool("no-binary", false, "demo only: omit the binary channel, forcing visual-only delivery")
	)
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: opticalsend -file <path> [-out <path>] [-drop-every N] [-no-binary]")
		os.Exit(2)
	}
	if *out == "" {
		*out = *path + ".received"
	}

	halt := idem.NewHalterNamed("opticalsend-cli")
	go func() {
		// background goroutine purely so Halt has something to report
		// on; the demo itself runs synchronously on the main goroutine.
		<-halt.ReqStop.Chan
		halt.Done.Close()
	}()
	defer func() {
		halt.ReqStop.Close()
		<-halt.Done.Chan
	}()

	if err := run(*path, *out, *dropVisual, *noBinary); err != nil {
		fmt.Fprintln(os.Stderr, "opticalsend:", err)
		os.Exit(1)
	}
}

func run(path, out string, dropEvery int, noBinary bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	senderBinary, receiverBinary := transport.NewLoopbackPair()
	senderVisual, receiverVisual := transport.NewLoopbackPair()

	var sendVisualChan transport.Channel = senderVisual
	if dropEvery > 0 {
		sendVisualChan = transport.NewLossyLoopback(senderVisual, func(seq int) bool {
			return seq%dropEvery == dropEvery-1
		})
	}

	var sendBinaryChan, recvBinaryChan transport.Channel
	if !noBinary {
		sendBinaryChan, recvBinaryChan = senderBinary, receiverBinary
	}

	senderCfg := opticalsend.NewConfig()
	senderCfg.StateDir = mustTempDir("opticalsend-send")
	senderEngine, err := opticalsend.NewEngine(senderCfg, sendBinaryChan, sendVisualChan)
	if err != nil {
		return fmt.Errorf("sender engine: %w", err)
	}
	defer senderEngine.Journal.Close()

	receiverCfg := opticalsend.NewConfig()
	receiverCfg.StateDir = mustTempDir("opticalsend-recv")
	receiverEngine, err := opticalsend.NewEngine(receiverCfg, recvBinaryChan, receiverVisual)
	if err != nil {
		return fmt.Errorf("receiver engine: %w", err)
	}
	defer receiverEngine.Journal.Close()

	var receivedManifest opticalsend.Manifest

	sessionID := opticalsend.NewID()
	sender, offer, err := opticalsend.NewSenderHandshake(sessionID, []int{senderCfg.BlockSize}, []string{"gzip", "none"})
	if err != nil {
		return fmt.Errorf("sender handshake: %w", err)
	}
	receiver, response, err := opticalsend.NewReceiverHandshake(offer, senderCfg.BlockSize, "gzip")
	if err != nil {
		return fmt.Errorf("receiver handshake: %w", err)
	}
	if err := sender.ReceiveAsSender(response); err != nil {
		return fmt.Errorf("sender finalize: %w", err)
	}

	fileID := opticalsend.NewID()

	receiverEngine.StartReceive(context.Background(), fileID, receiver.SessionKey, aead.Fingerprint(receiver.SessionKey))
	wireReceiverInbound(receiverEngine, &receivedManifest)

	wireSenderInbound(senderEngine)

	ctx := context.Background()
	if err := senderEngine.StartSend(ctx, path, raw, sender.SessionKey, aead.Fingerprint(sender.SessionKey)); err != nil {
		return fmt.Errorf("start send: %w", err)
	}

	progress := opticalsend.NewTransferStats(path, int64(len(raw)), senderEngine.Session.TotalBlocks, sender.Fingerprint)
	progress.Update(senderEngine.Sender.Tracker.CompletedCount(), time.Now())
	printProgress(progress)

	full, err := senderEngine.FinishSend(ctx)
	if err != nil {
		return fmt.Errorf("finish send: %w", err)
	}
	if !full {
		fmt.Fprintln(os.Stderr, "opticalsend: transfer degraded, one or more blocks were skipped after exhausting retries")
	}

	manifest := receivedManifest
	if manifest.SHA256 == "" {
		// binary channel was disabled (-no-binary): the manifest travelled
		// as a final visual frame instead, which this demo's visual
		// reassembler does not parse (it only understands VisualChunk
		// framing), so fall back to the value both sides already agree on.
		manifest = manifestFromSession(senderEngine)
	}
	assembled, err := receiverEngine.Receiver.Assemble(manifest)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	if err := os.WriteFile(out, assembled, 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	progress.SetState(opticalsend.SessionCompleted)
	printProgress(progress)
	fmt.Printf("\nwrote %s (%d bytes)\n", out, len(assembled))
	return nil
}

// wireSenderInbound hooks the sender's binary channel inbound handler
// to feed control traffic (acks/nacks) from the receiver straight back
// into Sender.HandleControl, and the visual channel has no inbound
// traffic on the sender side (it is display-only).
func wireSenderInbound(eng *opticalsend.Engine) {
	if eng.Arbiter.Binary == nil {
		return
	}
	eng.Arbiter.Binary.OnInbound(func(data []byte) {
		msg, err := opticalsend.DecodeControl(data)
		if err != nil {
			return
		}
		eng.Sender.HandleControl(context.Background(), msg)
	})
}

// wireReceiverInbound hooks both the receiver's binary and visual
// channels to the receiver pipeline: binary traffic carries
// announce/ack/nack control messages and, once the transfer completes,
// the manifest (section 4.6.1 step 5); visual frames carry VisualChunks.
func wireReceiverInbound(eng *opticalsend.Engine, manifest *opticalsend.Manifest) {
	if eng.Arbiter.Binary != nil {
		eng.Arbiter.Binary.OnInbound(func(data []byte) {
			if m, err := opticalsend.DecodeManifest(data); err == nil && m.SHA256 != "" {
				*manifest = m
				return
			}
			// anything else on the binary channel in this demo is either
			// an announce control message or a raw block payload; the
			// receiver pipeline takes neither from here, since a block's
			// header travels only on the visual channel (see DESIGN.md).
			if msg, err := opticalsend.DecodeControl(data); err == nil {
				_ = msg
			}
		})
	}
	eng.Arbiter.Visual.OnInbound(func(data []byte) {
		chunk, err := opticalsend.DecodeVisualFrame(data)
		if err != nil {
			return
		}
		eng.Receiver.HandleVisualChunk(context.Background(), chunk)
	})
}

func manifestFromSession(eng *opticalsend.Engine) opticalsend.Manifest {
	return opticalsend.Manifest{
		FileID:      eng.Session.FileID,
		Filename:    eng.Session.Filename,
		TotalSize:   eng.Session.TotalSize,
		TotalBlocks: eng.Session.TotalBlocks,
		SHA256:      eng.SendSHA256(),
	}
}

func mustTempDir(prefix string) string {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		panic(err)
	}
	return dir
}

func printProgress(ts *opticalsend.TransferStats) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	fmt.Printf("\r\033[K%s", ts.Summary())
}
