package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/go-terse/terse/terse"
)

func main() {
	log.SetFlags(0)

	app := &cli.App{
		Name:  "terse",
		Usage: "encode, decode, inspect, and verify terse-packed integer streams",
		Commands: []*cli.Command{
			{
				Name:      "encode",
				Usage:     "pack a newline-separated list of integers into a .terse file",
				ArgsUsage: "INPUT.txt OUTPUT.terse",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "signed", Value: true},
					&cli.IntFlag{Name: "block", Value: terse.DefaultBlockSize},
				},
				Action: runEncode,
			},
			{
				Name:      "decode",
				Usage:     "unpack a .terse file's first frame back to a newline-separated list of integers",
				ArgsUsage: "INPUT.terse",
				Action:    runDecode,
			},
			{
				Name:      "inspect",
				Usage:     "print a .terse file's header fields",
				ArgsUsage: "INPUT.terse",
				Action:    runInspect,
			},
			{
				Name:      "verify",
				Usage:     "walk every frame's header stream and report structural problems",
				ArgsUsage: "INPUT.terse",
				Action:    runVerify,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("terse: %s", err)
	}
}

func runEncode(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("encode requires INPUT.txt and OUTPUT.terse")
	}
	values, err := readIntegers(c.Args().Get(0))
	if err != nil {
		return err
	}

	fs := terse.NewEmpty(c.Int("block"))
	if c.Bool("signed") {
		err = terse.PushSigned(fs, values, nil)
	} else {
		unsigned := make([]uint64, len(values))
		for i, v := range values {
			unsigned[i] = uint64(v)
		}
		err = terse.PushUnsigned(fs, unsigned, nil)
	}
	if err != nil {
		return err
	}

	out, err := os.Create(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer out.Close()

	if err := fs.Write(out); err != nil {
		return err
	}
	fmt.Printf("packed %d values into %d bytes (max_bits=%d)\n", fs.FrameLength(), fs.PackedSize(), fs.MaxBits())
	return nil
}

func runDecode(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("decode requires INPUT.terse")
	}
	fs, err := loadStore(c.Args().Get(0))
	if err != nil {
		return err
	}

	if !fs.SignedValues() {
		out := make([]uint64, fs.FrameLength())
		if err := terse.UnpackUnsigned(fs, 0, out); err != nil {
			return err
		}
		for _, v := range out {
			fmt.Println(v)
		}
		return nil
	}
	out := make([]int64, fs.FrameLength())
	if err := terse.UnpackSigned(fs, 0, out); err != nil {
		return err
	}
	for _, v := range out {
		fmt.Println(v)
	}
	return nil
}

func runInspect(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("inspect requires INPUT.terse")
	}
	fs, err := loadStore(c.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Printf("frames:           %d\n", fs.FrameCount())
	fmt.Printf("frame_length:     %d\n", fs.FrameLength())
	fmt.Printf("signed:           %t\n", fs.SignedValues())
	fmt.Printf("block:            %d\n", fs.BlockSize())
	fmt.Printf("max_bits:         %d\n", fs.MaxBits())
	fmt.Printf("shape:            %v\n", fs.Shape())
	fmt.Printf("memory_size:      %d\n", fs.PackedSize())
	return nil
}

func runVerify(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("verify requires INPUT.terse")
	}
	fs, err := loadStore(c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := fs.Verify(); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func loadStore(path string) (*terse.FrameStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fs := terse.NewEmpty(terse.DefaultBlockSize)
	if err := fs.Read(f); err != nil {
		return nil, err
	}
	return fs, nil
}

func readIntegers(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var values []int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", line, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
