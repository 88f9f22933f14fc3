// Command nrtool is an offline helper for the NR resource allocation and MAC
// layers: TBS and MCS tables, RIV arithmetic, free PRB search and MAC PDU
// decoding.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	tableFlag = cli.StringFlag{
		Name:  "table",
		Value: "qam64",
		Usage: "MCS table: qam64, qam256 or qam64lowse",
	}
	prbFlag = cli.IntFlag{
		Name:  "prb",
		Value: 51,
		Usage: "Number of PRBs",
	}
	linkFlag = cli.StringFlag{
		Name:  "link",
		Value: "dl",
		Usage: "Link direction: dl or ul",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "nrtool"
	app.Usage = "NR resource allocation and MAC PDU toolbox"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		{
			Name:   "mcs",
			Usage:  "Print an MCS table",
			Flags:  []cli.Flag{tableFlag},
			Action: mcsTable,
		},
		{
			Name:  "tbs",
			Usage: "Print the transport block size of every MCS for an allocation",
			Flags: []cli.Flag{
				tableFlag,
				prbFlag,
				cli.IntFlag{Name: "symbols", Value: 12, Usage: "Allocated OFDM symbols"},
				cli.IntFlag{Name: "dmrs", Value: 12, Usage: "DMRS REs per PRB"},
				cli.IntFlag{Name: "xoverhead", Usage: "xOverhead REs per PRB"},
				cli.IntFlag{Name: "layers", Value: 1, Usage: "Transmission layers"},
			},
			Action: tbsTable,
		},
		{
			Name:   "cqi",
			Usage:  "Print the CQI to MCS mapping of a CQI table",
			Flags:  []cli.Flag{cli.IntFlag{Name: "table", Value: 1, Usage: "CQI table 1, 2 or 3"}},
			Action: cqiTable,
		},
		{
			Name:  "riv",
			Usage: "Encode a PRB interval into a RIV, or decode one with --riv",
			Flags: []cli.Flag{
				prbFlag,
				cli.IntFlag{Name: "start", Usage: "First PRB"},
				cli.IntFlag{Name: "len", Value: 1, Usage: "Number of PRBs"},
				cli.IntFlag{Name: "riv", Value: -1, Usage: "RIV to decode"},
			},
			Action: riv,
		},
		{
			Name:      "interval",
			Usage:     "Find the first free run of PRBs in a partly used BWP",
			ArgsUsage: "[used ranges, e.g. 0-9,20-24]",
			Flags: []cli.Flag{
				prbFlag,
				cli.IntFlag{Name: "len", Value: 1, Usage: "Wanted number of PRBs"},
				cli.IntFlag{Name: "from", Usage: "First PRB to consider"},
			},
			Action: interval,
		},
		{
			Name:      "mac",
			Usage:     "Decode a hex encoded MAC PDU",
			ArgsUsage: "<hex>",
			Flags:     []cli.Flag{linkFlag},
			Action:    macDecode,
		},
	}
	return app
}
