package scheduler

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/alexpiel/bittorrent-core/bterrors"
	"github.com/alexpiel/bittorrent-core/config"
	"github.com/alexpiel/bittorrent-core/metainfo"
	"github.com/alexpiel/bittorrent-core/peer"
	"github.com/alexpiel/bittorrent-core/piecejob"
	"github.com/alexpiel/bittorrent-core/tracker"
	log "github.com/sirupsen/logrus"
)

// Download runs the full scheduler: pool_size = min(len(peers),
// len(items), 10) permanently-bound-to-a-peer workers pull from a shared
// FIFO queue, download and verify each piece, requeue on failure, and push
// verified pieces into an ordered sink; once every worker has exited the
// sink is drained in ascending order into outPath.
func Download(td *metainfo.TorrentData, items []*Item, outPath string) error {
	if len(items) == 0 {
		return fmt.Errorf("no pieces to download: %w", bterrors.ErrProtocolViolation)
	}
	if len(td.Peers) == 0 {
		return fmt.Errorf("no peers available: %w", bterrors.ErrPeerUnreachable)
	}

	poolSize := min3(len(td.Peers), len(items), config.MaxWorkers)

	queue := NewQueue(items)
	sink := NewCompletionSink()
	var sinkMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func(peerIdx int) {
			defer wg.Done()
			runWorker(td, queue, &sinkMu, sink, td.Peers[peerIdx], outPath)
		}(i)
	}
	wg.Wait()

	if !queue.IsEmpty() {
		return fmt.Errorf("queue not fully drained: no workers remaining: %w", bterrors.ErrPeerUnreachable)
	}

	return assembleOutput(sink, outPath, len(items))
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// runWorker is permanently bound to one peer. It pops jobs from queue
// until empty, downloading each with that single connection; on success
// the job is pushed to sink, on failure it is cleared and requeued and the
// worker exits immediately since it has no spare peer (per spec.md §7).
func runWorker(td *metainfo.TorrentData, queue *Queue, sinkMu *sync.Mutex, sink *CompletionSink, peerInfo metainfo.Peer, outPath string) {
	pr := peer.New(peerInfo.IP, peerInfo.Port)

	for {
		item := queue.PopFront()
		if item == nil {
			return
		}

		if err := downloadOne(pr, td.InfoHash, item, outPath); err != nil {
			log.Warnf("piece %d failed on %s: %v", item.Index, pr.Endpoint, err)
			pr.Close()
			queue.Push(item)
			return
		}

		sinkMu.Lock()
		sink.Push(item.Index, spillPathFor(outPath, item.Index))
		sinkMu.Unlock()
		log.Debugf("piece %d complete via %s", item.Index, pr.Endpoint)
	}
}

func spillPathFor(outPath string, index int) string {
	return fmt.Sprintf("%s_piece_%d", outPath, index)
}

// downloadOne performs the handshake/bitfield/interested/unchoke
// progression on first use of a connection, then drives the block
// pipelining for this one job.
func downloadOne(p *peer.Peer, infoHash [20]byte, item *Item, outPath string) error {
	if p.State == peer.Disconnected {
		if err := p.Connect(infoHash, tracker.PeerID); err != nil {
			return err
		}
		if _, err := peer.ReadExpected(p.Conn, peer.Bitfield); err != nil {
			return err
		}
		if err := peer.Send(p.Conn, peer.InterestedMessage()); err != nil {
			return err
		}
		if _, err := peer.ReadExpected(p.Conn, peer.Unchoke); err != nil {
			return err
		}
		p.State = peer.Unchoked
	}

	job := piecejob.NewJob(item.Index, item.ExpectedLength, item.ExpectedHash)
	if err := job.Download(p.Conn, outPath); err != nil {
		return err
	}
	return nil
}

// assembleOutput drains sink in ascending piece-index order and streams
// each spill file into outPath, deleting spills as they are consumed. The
// output file is written once, start to finish, with no seeking.
func assembleOutput(sink *CompletionSink, outPath string, wantCount int) error {
	completions := sink.DrainAscending()
	if len(completions) != wantCount {
		return fmt.Errorf("only %d/%d pieces completed: %w", len(completions), wantCount, bterrors.ErrProtocolViolation)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("opening output %s: %w", outPath, bterrors.ErrIOFailure)
	}
	defer out.Close()

	for _, c := range completions {
		if err := appendSpill(out, c.spillPath); err != nil {
			return err
		}
	}
	return nil
}

func appendSpill(out io.Writer, spillPath string) error {
	f, err := os.Open(spillPath)
	if err != nil {
		return fmt.Errorf("opening spill file %s: %w", spillPath, bterrors.ErrIOFailure)
	}
	defer f.Close()

	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("streaming spill file %s: %w", spillPath, bterrors.ErrIOFailure)
	}
	if err := os.Remove(spillPath); err != nil {
		return fmt.Errorf("removing spill file %s: %w", spillPath, bterrors.ErrIOFailure)
	}
	return nil
}
