// Package console implements a line protocol for driving the room store from
// a host process: chunk lifecycle events, block edits and queries, one
// command per line.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/OCharnyshevich/roomguard/internal/server/world"
)

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("console: usage")

// Host is the part of the server the console drives.
type Host interface {
	World(name string) (*world.World, error)
	ChunkLoaded(worldName string, cx, cz int) error
	ChunkUnloaded(worldName string, cx, cz int) error
	SaveAll() error
}

type command struct {
	name    string
	usage   string
	desc    string
	nargs   int
	handler func(c *Console, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{name: "help", usage: "help", desc: "Show available commands", handler: cmdHelp},
		{name: "load", usage: "load <world> <cx> <cz>", desc: "Mark a chunk as loaded", nargs: 3, handler: cmdLoad},
		{name: "unload", usage: "unload <world> <cx> <cz>", desc: "Mark a chunk as unloaded", nargs: 3, handler: cmdUnload},
		{name: "set", usage: "set <world> <x> <y> <z> <room>", desc: "Assign a block to a room, 0 clears it", nargs: 5, handler: cmdSet},
		{name: "get", usage: "get <world> <x> <y> <z>", desc: "Print the room of a block", nargs: 4, handler: cmdGet},
		{name: "blocks", usage: "blocks <world> <cx> <cz> <room>", desc: "List a room's blocks in a chunk", nargs: 4, handler: cmdBlocks},
		{name: "remove", usage: "remove <world> <cx> <cz> <room>", desc: "Clear a room from a chunk", nargs: 4, handler: cmdRemove},
		{name: "contains", usage: "contains <world> <cx> <cz> <room>", desc: "Report whether a chunk knows a room", nargs: 4, handler: cmdContains},
		{name: "locate", usage: "locate <world> <room>", desc: "List chunks holding a room as of their last save", nargs: 2, handler: cmdLocate},
		{name: "save", usage: "save", desc: "Save every world", handler: cmdSave},
	}
}

// Console executes command lines against a Host and writes replies to out.
type Console struct {
	host Host
	out  io.Writer
	log  *slog.Logger
}

// New returns a console writing replies to out.
func New(host Host, out io.Writer, log *slog.Logger) *Console {
	return &Console{host: host, out: out, log: log}
}

// Exec runs one command line. Blank lines and lines starting with '#' are
// ignored.
func (c *Console) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	parts := strings.Fields(line)
	name := strings.ToLower(parts[0])
	args := parts[1:]

	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if len(args) != cmd.nargs {
			return fmt.Errorf("%w: %s", ErrUsage, cmd.usage)
		}
		return cmd.handler(c, args)
	}
	return fmt.Errorf("%w: unknown command %q, type help for a list of commands", ErrUsage, name)
}

// Run executes lines from in until EOF or ctx is cancelled. A failing
// command is reported as an "error:" line and does not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.Exec(sc.Text()); err != nil {
			c.log.Debug("console command failed", "line", sc.Text(), "error", err)
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return sc.Err()
}

func (c *Console) println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

func parseInts(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrUsage, a)
		}
		out[i] = n
	}
	return out, nil
}

func parseRoom(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a room ID", ErrUsage, s)
	}
	return uint32(n), nil
}

// chunkRoomArgs parses "<world> <cx> <cz> <room>".
func (c *Console) chunkRoomArgs(args []string) (*world.World, int, int, uint32, error) {
	pos, err := parseInts(args[1:3])
	if err != nil {
		return nil, 0, 0, 0, err
	}
	room, err := parseRoom(args[3])
	if err != nil {
		return nil, 0, 0, 0, err
	}
	w, err := c.host.World(args[0])
	if err != nil {
		return nil, 0, 0, 0, err
	}
	return w, pos[0], pos[1], room, nil
}

func cmdHelp(c *Console, _ []string) error {
	for _, cmd := range commands {
		c.println(fmt.Sprintf("%s - %s", cmd.usage, cmd.desc))
	}
	return nil
}

func cmdLoad(c *Console, args []string) error {
	pos, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	if err := c.host.ChunkLoaded(args[0], pos[0], pos[1]); err != nil {
		return err
	}
	c.println("ok")
	return nil
}

func cmdUnload(c *Console, args []string) error {
	pos, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	if err := c.host.ChunkUnloaded(args[0], pos[0], pos[1]); err != nil {
		return err
	}
	c.println("ok")
	return nil
}

func cmdSet(c *Console, args []string) error {
	pos, err := parseInts(args[1:4])
	if err != nil {
		return err
	}
	// The store rejects negative IDs.
	room, err := strconv.ParseInt(args[4], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a room ID", ErrUsage, args[4])
	}
	w, err := c.host.World(args[0])
	if err != nil {
		return err
	}
	if err := w.SetBlockToRoomID(pos[0], pos[1], pos[2], room); err != nil {
		return err
	}
	c.println("ok")
	return nil
}

func cmdGet(c *Console, args []string) error {
	pos, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	w, err := c.host.World(args[0])
	if err != nil {
		return err
	}
	room, err := w.RoomIDAtBlock(pos[0], pos[1], pos[2])
	if err != nil {
		return err
	}
	c.println(room)
	return nil
}

func cmdBlocks(c *Console, args []string) error {
	w, cx, cz, room, err := c.chunkRoomArgs(args)
	if err != nil {
		return err
	}
	blocks, err := w.BlocksForRoomID(cx, cz, room)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		c.println(b.X, b.Y, b.Z)
	}
	c.println("count", len(blocks))
	return nil
}

func cmdRemove(c *Console, args []string) error {
	w, cx, cz, room, err := c.chunkRoomArgs(args)
	if err != nil {
		return err
	}
	if err := w.RemoveRoomID(cx, cz, room); err != nil {
		return err
	}
	c.println("ok")
	return nil
}

func cmdContains(c *Console, args []string) error {
	w, cx, cz, room, err := c.chunkRoomArgs(args)
	if err != nil {
		return err
	}
	ok, err := w.ContainsRoomID(cx, cz, room)
	if err != nil {
		return err
	}
	c.println(ok)
	return nil
}

func cmdLocate(c *Console, args []string) error {
	room, err := parseRoom(args[1])
	if err != nil {
		return err
	}
	w, err := c.host.World(args[0])
	if err != nil {
		return err
	}
	chunks, err := w.ChunksWithRoom(context.Background(), room)
	if err != nil {
		return err
	}
	for _, p := range chunks {
		c.println(p.X, p.Z)
	}
	c.println("count", len(chunks))
	return nil
}

func cmdSave(c *Console, _ []string) error {
	if err := c.host.SaveAll(); err != nil {
		return err
	}
	c.println("ok")
	return nil
}
