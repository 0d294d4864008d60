package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ramfs/internal/common"
	"ramfs/internal/ramfs"
)

var scriptCmd = &cobra.Command{
	Use:   "script <file|->",
	Short: "Run filesystem commands against a private in-memory instance",
	Long: `Mounts a fresh filesystem inside this process, runs one command per line
from the file (or stdin for "-"), prints the results and discards the
filesystem. No daemon and no network mount are involved.

Commands:
  mkdir <path>          create a directory
  write <path> <text>   create or truncate a file and write text
                        (a double-quoted text is unescaped)
  cat <path>            print a file
  ls <path>             list directory records: inode, type, name
  stat <path>           print inode, mode, link count and size
  rmdir <path>          remove an empty directory
  tree [path]           print the tree below path (default /)

Blank lines and lines starting with # are ignored. A failing command prints
its error and the script continues.`,
	Args: cobra.ExactArgs(1),
	RunE: runScriptCmd,
}

var scriptMaxBytes int64

func init() {
	scriptCmd.Flags().Int64Var(&scriptMaxBytes, "max-bytes", 0, "Memory budget in bytes (0 = unlimited)")
	rootCmd.AddCommand(scriptCmd)
}

func runScriptCmd(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	fs, err := ramfs.Mount(ramfs.WithMaxBytes(scriptMaxBytes))
	if err != nil {
		return err
	}
	defer fs.Release()

	return runScript(fs, in, cmd.OutOrStdout())
}

// errScriptFailed reports that at least one script line failed.
var errScriptFailed = errors.New("script had failing commands")

// runScript executes script lines against fs, writing results to w.
func runScript(fs ramfs.FileSystem, r io.Reader, w io.Writer) error {
	failed := 0
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fmt.Fprintf(w, "$ %s\n", line)
		if err := runScriptLine(fs, line, w); err != nil {
			fmt.Fprintf(w, "! line %d: %v\n", lineNo, err)
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d", errScriptFailed, failed)
	}
	return nil
}

func runScriptLine(fs ramfs.FileSystem, line string, w io.Writer) error {
	op, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	target, text, _ := strings.Cut(rest, " ")

	needPath := func() error {
		if target == "" {
			return fmt.Errorf("%s: path required", op)
		}
		return nil
	}

	switch op {
	case "mkdir":
		if err := needPath(); err != nil {
			return err
		}
		return fs.Mkdir(target, 0o755)
	case "rmdir":
		if err := needPath(); err != nil {
			return err
		}
		return fs.Rmdir(target)
	case "write":
		if err := needPath(); err != nil {
			return err
		}
		return scriptWrite(fs, target, strings.TrimSpace(text), w)
	case "cat":
		if err := needPath(); err != nil {
			return err
		}
		return scriptCat(fs, target, w)
	case "ls":
		if err := needPath(); err != nil {
			return err
		}
		return scriptLs(fs, target, w)
	case "stat":
		if err := needPath(); err != nil {
			return err
		}
		st, err := fs.Stat(target)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "ino=%d mode=%06o nlink=%d size=%d\n", st.Ino, st.Mode, st.Nlink, st.Size)
		return nil
	case "tree":
		if target == "" {
			target = "/"
		}
		fmt.Fprintln(w, target)
		return scriptTree(fs, target, "", w)
	default:
		return fmt.Errorf("%w: %q", common.ErrUnknownCommand, op)
	}
}

func scriptWrite(fs ramfs.FileSystem, p, text string, w io.Writer) error {
	if strings.HasPrefix(text, `"`) {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("write: bad quoted text: %w", err)
		}
		text = unquoted
	}
	f, err := fs.Creat(p, 0o644)
	if err != nil {
		return err
	}
	n, err := fs.Write(f, []byte(text))
	if cerr := fs.Close(f); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %d bytes\n", n)
	return nil
}

func scriptCat(fs ramfs.FileSystem, p string, w io.Writer) error {
	f, err := fs.Open(p, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer fs.Close(f)

	buf := make([]byte, 4096)
	var last byte
	for {
		n, err := fs.Read(f, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		w.Write(buf[:n])
		last = buf[n-1]
	}
	if last != 0 && last != '\n' {
		fmt.Fprintln(w)
	}
	return nil
}

// readDirents returns every record of the directory at p, "." and ".."
// included, in storage order.
func readDirents(fs ramfs.FileSystem, p string) ([]ramfs.Dirent, error) {
	f, err := fs.Open(p, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer fs.Close(f)

	var all []ramfs.Dirent
	buf := make([]ramfs.Dirent, 16)
	for {
		n, err := fs.Getdents(f, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return all, nil
		}
		all = append(all, buf[:n]...)
	}
}

func direntType(t uint8) string {
	if t == ramfs.DT_DIR {
		return "d"
	}
	return "f"
}

func scriptLs(fs ramfs.FileSystem, p string, w io.Writer) error {
	dirents, err := readDirents(fs, p)
	if err != nil {
		return err
	}
	for _, d := range dirents {
		fmt.Fprintf(w, "%d %s %s\n", d.Ino, direntType(d.Type), d.Name)
	}
	return nil
}

func scriptTree(fs ramfs.FileSystem, p, indent string, w io.Writer) error {
	dirents, err := readDirents(fs, p)
	if err != nil {
		return err
	}
	var children []ramfs.Dirent
	for _, d := range dirents {
		if d.Name != "." && d.Name != ".." {
			children = append(children, d)
		}
	}
	for i, d := range children {
		branch, next := "├── ", "│   "
		if i == len(children)-1 {
			branch, next = "└── ", "    "
		}
		name := d.Name
		if d.Type == ramfs.DT_DIR {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s%s\n", indent, branch, name)
		if d.Type == ramfs.DT_DIR {
			if err := scriptTree(fs, path.Join(p, d.Name), indent+next, w); err != nil {
				return err
			}
		}
	}
	return nil
}
